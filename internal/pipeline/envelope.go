// Package pipeline runs raw catalog rows through parse, image, embed and
// write stages. Every stage forks its output into a success and a failure
// stream; failures are terminal and never block sibling items.
package pipeline

import (
	"context"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
)

// Status is the two-way tag carried by every envelope. Its value is the
// index of the output stream it is routed to.
type Status int

const (
	StatusSuccess Status = 0
	StatusFailure Status = 1
)

func (s Status) String() string {
	if s == StatusFailure {
		return "failure"
	}
	return "success"
}

// Stage names.
const (
	StageParse = "parse"
	StageImage = "image"
	StageEmbed = "embed"
	StageWrite = "write"
)

// Envelope carries one item between stages.
type Envelope struct {
	Status  Status
	Row     catalog.Row
	Product *catalog.Product
	// Message describes the failure of a StatusFailure envelope.
	Message string
	// Stage is the last stage that handled the item.
	Stage string
}

// Tag implements Tagged.
func (e Envelope) Tag() Status { return e.Status }

// Success returns a success envelope for product.
func Success(stage string, p *catalog.Product) Envelope {
	return Envelope{Status: StatusSuccess, Product: p, Stage: stage}
}

// Failure returns a failure envelope.
func Failure(stage string, p *catalog.Product, message string) Envelope {
	return Envelope{Status: StatusFailure, Product: p, Message: message, Stage: stage}
}

// Tagged is anything routed by a status tag.
type Tagged interface {
	Tag() Status
}

// Partition splits in into a success and a failure stream by tag index.
// Both outputs close after in closes. A tag outside the two known values is
// routed to failure. Both outputs must be drained.
func Partition[T Tagged](ctx context.Context, in <-chan T) (<-chan T, <-chan T) {
	success := make(chan T)
	failure := make(chan T)
	outs := [2]chan T{success, failure}

	go func() {
		defer close(success)
		defer close(failure)
		for item := range in {
			idx := item.Tag()
			if idx != StatusSuccess {
				idx = StatusFailure
			}
			select {
			case outs[idx] <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return success, failure
}
