package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal считает переходы по действию (manufactured/received/arrived)
	// и результату (success/conflict/denied/error).
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_transitions_total",
		Help: "Custody transitions by action and result.",
	}, []string{"action", "result"})

	BatchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_batch_items_total",
		Help: "Batch transition items by result.",
	}, []string{"result"})

	VerifierChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_verifier_checks_total",
		Help: "Ledger integrity checks by result (ok/hash_mismatch/bad_status).",
	}, []string{"result"})
)
