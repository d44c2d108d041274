package store

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// OrderReverter reverte pedidos pendentes que expiraram
type OrderReverter interface {
	RevertElapsedOrders(ctx context.Context, maxAge time.Duration) (int, error)
}

// Reconciler varre periodicamente pedidos pendentes que passaram do prazo
// máximo de confirmação e os reverte, devolvendo o estoque reservado.
// Execuções são coalescidas: no máximo uma varredura por vez, e um tick que
// encontra uma varredura em andamento é descartado.
type Reconciler struct {
	orders                  OrderReverter
	maxConfirmationDuration time.Duration
	sweepInterval           time.Duration

	running atomic.Bool
}

// NewReconciler cria uma nova instância de Reconciler
func NewReconciler(orders OrderReverter, maxConfirmationDuration, sweepInterval time.Duration) *Reconciler {
	return &Reconciler{
		orders:                  orders,
		maxConfirmationDuration: maxConfirmationDuration,
		sweepInterval:           sweepInterval,
	}
}

// Run executa varreduras no intervalo configurado até o contexto ser
// cancelado. Uma varredura que falha é registrada e tentada de novo no
// próximo tick.
func (r *Reconciler) Run(ctx context.Context) {
	log.Printf("🚀 [RECONCILER] Sweeping every %s for orders pending longer than %s",
		r.sweepInterval, r.maxConfirmationDuration)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("ℹ️  [RECONCILER] Stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep executa uma varredura única. Retorna imediatamente se outra
// varredura ainda estiver em andamento.
func (r *Reconciler) Sweep(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		log.Printf("ℹ️  [RECONCILER] Previous sweep still running, skipping")
		return
	}
	defer r.running.Store(false)

	reverted, err := r.orders.RevertElapsedOrders(ctx, r.maxConfirmationDuration)
	if err != nil {
		log.Printf("❌ [RECONCILER] Sweep failed: %v", err)
		return
	}
	if reverted > 0 {
		log.Printf("↩️  [RECONCILER] Reverted %d elapsed orders", reverted)
	}
}
