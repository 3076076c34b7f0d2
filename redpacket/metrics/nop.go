package metrics

// NopMetrics discards everything.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) RecordGrab(_ /* outcome */ string, _ /* seconds */ float64) {}

func (n *NopMetrics) RecordSettlement(_ /* result */ string) {}

func (n *NopMetrics) SetActivePools(_ /* n */ int) {}

func (n *NopMetrics) IncrementInconsistency() {}

func (n *NopMetrics) RecordRecovery(_ /* result */ string) {}
