package audio

import "context"

// pipeRunner runs the host codec with stdin bytes.
// *ffmpeg.Executor satisfies it.
type pipeRunner interface {
	Pipe(ctx context.Context, path string, args []string, stdin []byte) ([]byte, string, error)
}
