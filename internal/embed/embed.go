// Package embed turns text into vectors via an external embedding service.
package embed

import "context"

type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
