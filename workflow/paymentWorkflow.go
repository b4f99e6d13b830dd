package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
	"bitbucket.org/mmdatafocus/dairy_backend/models"
	"go.opentelemetry.io/otel/trace"
)

// AddPayment inserts a manual payment record. When the input names an order,
// the same idempotency rule as the automatic path applies: an existing
// payment for that order wins and is returned unchanged.
func (p *Propagator) AddPayment(ctx context.Context, input *models.NewPayment) (*models.PaymentRecord, error) {
	ctx, span := tracer.Start(ctx, "Propagator.AddPayment", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	if input.OrderId != "" {
		release, lockErr := p.obtainLock(ctx, "payment:order:"+input.OrderId)
		if lockErr != nil {
			return nil, lockErr
		}
		defer release()

		existing, err := p.findPaymentByOrder(ctx, input.OrderId)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	rec := models.PaymentRecord{
		OrderId:      input.OrderId,
		CustomerName: input.CustomerName,
		Amount:       input.Amount,
		Type:         input.Type,
		Status:       input.Status,
		Date:         input.Date,
		CreatedAt:    p.now(),
	}
	if !rec.Type.Valid() {
		rec.Type = models.PaymentTypeOffline
	}
	if !rec.Status.Valid() {
		rec.Status = models.PaymentStatusPending
	}

	id, err := p.Store.Insert(ctx, ledger.CollectionPayments, rec.ToDocument())
	if err != nil {
		return nil, err
	}
	rec.ID = id
	return &rec, nil
}

func (p *Propagator) findPaymentByOrder(ctx context.Context, orderId string) (*models.PaymentRecord, error) {
	docs, err := p.Store.ListAll(ctx, ledger.CollectionPayments)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		rec := models.PaymentFromDocument(doc)
		if rec.OrderId == orderId {
			return &rec, nil
		}
	}
	return nil, nil
}
