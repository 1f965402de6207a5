package labelscan

// Monitor receives lifecycle notifications from the index. Implementations
// must be cheap and non-blocking: they observe startup and recovery, they
// never steer it. Each event fires at most once per Open.
type Monitor interface {
	// Init is called when startup begins.
	Init()

	// NoIndex is called when no prior state exists and a full rebuild is
	// about to be scheduled.
	NoIndex()

	// NotValidIndex is called when prior state exists but failed the
	// validity probe, so a full rebuild is about to be scheduled.
	NotValidIndex()

	// Rebuilding is called when a full rebuild starts.
	Rebuilding()

	// Rebuilt is called when a full rebuild finishes, with the number of
	// entities replayed from the change stream.
	Rebuilt(entities int64)

	// LockedIndex is called when prior state exists but cannot be used at
	// all, for example because another process holds it. Startup fails
	// afterwards.
	LockedIndex(cause error)
}

// NoopMonitor is a Monitor that ignores every event. It is the default.
type NoopMonitor struct{}

func (NoopMonitor) Init()             {}
func (NoopMonitor) NoIndex()          {}
func (NoopMonitor) NotValidIndex()    {}
func (NoopMonitor) Rebuilding()       {}
func (NoopMonitor) Rebuilt(int64)     {}
func (NoopMonitor) LockedIndex(error) {}

// MultiMonitor fans every event out to all monitors in order.
func MultiMonitor(monitors ...Monitor) Monitor {
	return multiMonitor(monitors)
}

type multiMonitor []Monitor

func (m multiMonitor) Init() {
	for _, mon := range m {
		mon.Init()
	}
}

func (m multiMonitor) NoIndex() {
	for _, mon := range m {
		mon.NoIndex()
	}
}

func (m multiMonitor) NotValidIndex() {
	for _, mon := range m {
		mon.NotValidIndex()
	}
}

func (m multiMonitor) Rebuilding() {
	for _, mon := range m {
		mon.Rebuilding()
	}
}

func (m multiMonitor) Rebuilt(entities int64) {
	for _, mon := range m {
		mon.Rebuilt(entities)
	}
}

func (m multiMonitor) LockedIndex(cause error) {
	for _, mon := range m {
		mon.LockedIndex(cause)
	}
}
