package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentnet_requests_created_total",
		Help: "Count of request slots allocated in the ledger ring.",
	})
	requestsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentnet_requests_finalized_total",
		Help: "Count of finalized requests by terminal status.",
	}, []string{"status"})
	responsesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentnet_responses_accepted_total",
		Help: "Count of validator responses recorded in the ledger.",
	})
	payoutsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentnet_payout_settlements_total",
		Help: "Count of payout settlements credited to pending balances.",
	})
	rebatesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentnet_rebates_issued_total",
		Help: "Count of deposit rebates sent back to requesters.",
	})
)
