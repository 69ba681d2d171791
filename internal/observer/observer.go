// Package observer defines the GUI/tray collaborator contract (C11):
// observers of instance state and issuers of lifecycle commands. Only
// the interface lives here; concrete observers (a desktop tray icon, a
// CLI status printer) are external collaborators per the system's scope.
package observer

// Snapshot is the status view exposed to observers, per the external
// interfaces: one per instance.
type Snapshot struct {
	Name          string
	State         string
	Port          int
	Path          string
	SourceType    string
	ClientCount   int
	UptimeSeconds *float64
	ErrorMessage  *string
	VideoCodec    string
	AudioCodec    string
	Bitrate       string
	Framerate     int
}

// StateChangeObserver is notified whenever an instance's lifecycle state
// changes. Invocation happens on the controller's scheduling context;
// implementations must not block.
type StateChangeObserver interface {
	OnStateChange(snapshot Snapshot)
}

// Registry lets observers subscribe/unsubscribe from state-change
// notifications, modeled as a subscription interface rather than a global
// event bus (per the design notes).
type Registry struct {
	observers []StateChangeObserver
}

// New returns an empty observer Registry.
func New() *Registry {
	return &Registry{}
}

// Subscribe registers o to receive future notifications.
func (r *Registry) Subscribe(o StateChangeObserver) {
	r.observers = append(r.observers, o)
}

// Notify invokes every subscribed observer with snapshot. A panicking
// observer is recovered so it cannot take down the controller that called
// Notify.
func (r *Registry) Notify(snapshot Snapshot) {
	for _, o := range r.observers {
		notifyOne(o, snapshot)
	}
}

func notifyOne(o StateChangeObserver, snapshot Snapshot) {
	defer func() { _ = recover() }()
	o.OnStateChange(snapshot)
}
