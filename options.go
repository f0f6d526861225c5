package chronicle

import "time"

// Default tunables, per §6.
const (
	DefaultEstablishTermTimeout = 10 * time.Second
	DefaultCheckPeersInterval   = 5 * time.Second
	DefaultStopTimeout          = 10 * time.Second
)

// proposerOptions holds the tunables and mailbox sizing of a Proposer,
// built from functional options the way the teacher builds
// serverOptions from ServerOption (see applyServerOpts in server.go).
type proposerOptions struct {
	establishTermTimeout time.Duration
	checkPeersInterval   time.Duration
	stopTimeout          time.Duration
	mailboxSize          int
	logger               *Logger
}

func defaultProposerOptions() *proposerOptions {
	return &proposerOptions{
		establishTermTimeout: DefaultEstablishTermTimeout,
		checkPeersInterval:   DefaultCheckPeersInterval,
		stopTimeout:          DefaultStopTimeout,
		mailboxSize:          64,
	}
}

// ProposerOption configures a Proposer at construction time.
type ProposerOption func(*proposerOptions)

// WithEstablishTermTimeout overrides ESTABLISH_TERM_TIMEOUT.
func WithEstablishTermTimeout(d time.Duration) ProposerOption {
	return func(o *proposerOptions) { o.establishTermTimeout = d }
}

// WithCheckPeersInterval overrides CHECK_PEERS_INTERVAL.
func WithCheckPeersInterval(d time.Duration) ProposerOption {
	return func(o *proposerOptions) { o.checkPeersInterval = d }
}

// WithStopTimeout overrides STOP_TIMEOUT.
func WithStopTimeout(d time.Duration) ProposerOption {
	return func(o *proposerOptions) { o.stopTimeout = d }
}

// WithMailboxSize overrides the buffer size of every mailbox channel.
func WithMailboxSize(n int) ProposerOption {
	return func(o *proposerOptions) { o.mailboxSize = n }
}

// WithLogger overrides the logger used by the proposer. Defaults to a
// production zap logger at info level.
func WithLogger(l *Logger) ProposerOption {
	return func(o *proposerOptions) { o.logger = l }
}

func applyProposerOpts(opts ...ProposerOption) *proposerOptions {
	o := defaultProposerOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = NewLogger("info")
	}
	return o
}
