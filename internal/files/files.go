// Package files is the seam to the out-of-scope document storage: invoice
// PDFs live outside this core and must be released when their invoices are
// purged or a subscription cancellation deletes its billing trail.
package files

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Collaborator releases stored documents for deleted invoices. Implemented
// by the storefront's file layer; a failure to release is logged, never
// allowed to abort a settlement.
type Collaborator interface {
	ReleaseInvoicePDF(ctx context.Context, invoiceNumber string) error
}

type noop struct {
	log *zap.Logger
}

func NewNoop(log *zap.Logger) Collaborator {
	return &noop{log: log.Named("files.noop")}
}

func (n *noop) ReleaseInvoicePDF(ctx context.Context, invoiceNumber string) error {
	n.log.Debug("release invoice pdf", zap.String("number", invoiceNumber))
	return nil
}

var Module = fx.Module("files",
	fx.Provide(NewNoop),
)
