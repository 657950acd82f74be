package vmap

import "errors"

var (
	// errAlreadyImmutable is returned by VirtualRoot.Copy when called on a
	// copy that has already been superseded.
	errAlreadyImmutable = errors.New("vmap: copy is already immutable")

	// errRootNotInternal is returned by VirtualRoot.Copy when the copy's
	// root is a bare leaf, which has no COW clone operation.
	errRootNotInternal = errors.New("vmap: root is not an internal node")

	// errPipelineTerminated is returned by RegisterCopy/ReleaseCopy/
	// DetachCopy once the pipeline has been terminated.
	errPipelineTerminated = errors.New("vmap: pipeline terminated")

	// ErrPipelineShutdown wraps the error that triggered an immediate
	// worker shutdown, surfaced to the caller of Terminate.
	ErrPipelineShutdown = errors.New("vmap: pipeline shut down due to worker error")
)
