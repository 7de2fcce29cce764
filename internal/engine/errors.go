package engine

import "errors"

var (
	// ErrNoKnownIdentities is returned when the engine is asked to start without any reference faces.
	ErrNoKnownIdentities = errors.New("no known identities loaded")
	// ErrEmbeddingDimension means the reference embeddings do not share one length.
	ErrEmbeddingDimension = errors.New("known identity embeddings have inconsistent dimensions")
	// ErrNoSpoofScorer means anti-spoofing is enabled but nothing can score a face.
	ErrNoSpoofScorer = errors.New("anti-spoof enabled without a scorer")
	// ErrNoFrameSource means the engine has nowhere to pull frames from.
	ErrNoFrameSource = errors.New("no frame source")
)
