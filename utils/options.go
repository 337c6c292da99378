package utils

// LogOptions carries the logging callbacks every component reports through.
// Unset callbacks are ignored.
type LogOptions struct {
	DebugLog  func(msg string) `json:"-" yaml:"-"`
	OnWarning func(msg string) `json:"-" yaml:"-"`
	OnError   func(err error)  `json:"-" yaml:"-"`
}

func (o LogOptions) Debug(msg string) {
	if o.DebugLog != nil {
		o.DebugLog(msg)
	}
}

func (o LogOptions) Warn(msg string) {
	if o.OnWarning != nil {
		o.OnWarning(msg)
	}
}

func (o LogOptions) Error(err error) {
	if o.OnError != nil && err != nil {
		o.OnError(err)
	}
}
