package metrics

// Names of the metrics the engine always registers.
const (
	VUsName               = "vus"
	VUsMaxName            = "vus_max"
	IterationsName        = "iterations"
	IterationDurationName = "iteration_duration"

	ChecksName        = "checks"
	GroupDurationName = "group_duration"

	HTTPReqsName              = "http_reqs"
	HTTPReqFailedName         = "http_req_failed"
	HTTPReqDurationName       = "http_req_duration"
	HTTPReqBlockedName        = "http_req_blocked"
	HTTPReqConnectingName     = "http_req_connecting"
	HTTPReqTLSHandshakingName = "http_req_tls_handshaking"
	HTTPReqSendingName        = "http_req_sending"
	HTTPReqWaitingName        = "http_req_waiting"
	HTTPReqReceivingName      = "http_req_receiving"

	DataSentName     = "data_sent"
	DataReceivedName = "data_received"
)

// BuiltinMetrics are the metrics every test run has.
type BuiltinMetrics struct {
	VUs               *Metric
	VUsMax            *Metric
	Iterations        *Metric
	IterationDuration *Metric

	Checks        *Metric
	GroupDuration *Metric

	HTTPReqs              *Metric
	HTTPReqFailed         *Metric
	HTTPReqDuration       *Metric
	HTTPReqBlocked        *Metric
	HTTPReqConnecting     *Metric
	HTTPReqTLSHandshaking *Metric
	HTTPReqSending        *Metric
	HTTPReqWaiting        *Metric
	HTTPReqReceiving      *Metric

	DataSent     *Metric
	DataReceived *Metric
}

// RegisterBuiltinMetrics registers the builtin metrics in registry and
// returns them.
func RegisterBuiltinMetrics(registry *Registry) *BuiltinMetrics {
	bm := &BuiltinMetrics{}
	for _, def := range []struct {
		target   **Metric
		name     string
		typ      MetricType
		contains []ValueType
	}{
		{&bm.VUs, VUsName, Gauge, nil},
		{&bm.VUsMax, VUsMaxName, Gauge, nil},
		{&bm.Iterations, IterationsName, Counter, nil},
		{&bm.IterationDuration, IterationDurationName, Trend, []ValueType{Time}},

		{&bm.Checks, ChecksName, Rate, nil},
		{&bm.GroupDuration, GroupDurationName, Trend, []ValueType{Time}},

		{&bm.HTTPReqs, HTTPReqsName, Counter, nil},
		{&bm.HTTPReqFailed, HTTPReqFailedName, Rate, nil},
		{&bm.HTTPReqDuration, HTTPReqDurationName, Trend, []ValueType{Time}},
		{&bm.HTTPReqBlocked, HTTPReqBlockedName, Trend, []ValueType{Time}},
		{&bm.HTTPReqConnecting, HTTPReqConnectingName, Trend, []ValueType{Time}},
		{&bm.HTTPReqTLSHandshaking, HTTPReqTLSHandshakingName, Trend, []ValueType{Time}},
		{&bm.HTTPReqSending, HTTPReqSendingName, Trend, []ValueType{Time}},
		{&bm.HTTPReqWaiting, HTTPReqWaitingName, Trend, []ValueType{Time}},
		{&bm.HTTPReqReceiving, HTTPReqReceivingName, Trend, []ValueType{Time}},

		{&bm.DataSent, DataSentName, Counter, []ValueType{Data}},
		{&bm.DataReceived, DataReceivedName, Counter, []ValueType{Data}},
	} {
		*def.target = registry.MustNewMetric(def.name, def.typ, def.contains...)
	}
	return bm
}
