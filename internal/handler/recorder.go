package handler

// EventRecorder は認証イベントのメトリクスを記録するインターフェース。
// metrics.Collector が実装する。
type EventRecorder interface {
	RecordLogin(method, outcome string)
	RecordRefresh(outcome string)
	RecordRegistration(outcome string, emailSent bool)
	RecordEmailVerification(outcome string)
}

// nopRecorder は何も記録しないEventRecorder。
type nopRecorder struct{}

func (nopRecorder) RecordLogin(string, string)      {}
func (nopRecorder) RecordRefresh(string)            {}
func (nopRecorder) RecordRegistration(string, bool) {}
func (nopRecorder) RecordEmailVerification(string)  {}

func recorderOrNop(r EventRecorder) EventRecorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
