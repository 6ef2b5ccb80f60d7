package anndata

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/resource"
)

// JoinPolicy decides how the var axes of several containers combine.
type JoinPolicy uint8

const (
	// JoinInner requires every container to have the same var index.
	JoinInner JoinPolicy = iota
	// JoinUnion keeps every var name; missing entries are absent in sparse
	// results, NaN in dense float results and zero otherwise.
	JoinUnion
	// JoinIntersection keeps the var names all containers share, in the
	// order of the first container.
	JoinIntersection
)

func (p JoinPolicy) String() string {
	switch p {
	case JoinInner:
		return "inner"
	case JoinUnion:
		return "union"
	case JoinIntersection:
		return "intersection"
	default:
		return "unknown"
	}
}

// ParseJoinPolicy parses "inner", "union" or "intersection".
func ParseJoinPolicy(s string) (JoinPolicy, error) {
	switch strings.ToLower(s) {
	case "", "inner":
		return JoinInner, nil
	case "union", "outer":
		return JoinUnion, nil
	case "intersection":
		return JoinIntersection, nil
	default:
		return 0, fmt.Errorf("%w: join policy %q", ErrTypeMismatch, s)
	}
}

// DefaultLabelColumn is the obs column recording each row's source
// container in datasets and concatenations.
const DefaultLabelColumn = "sample"

type options struct {
	storeOpts        []cas.Option
	metricsCollector MetricsCollector
	logger           *Logger
	rc               *resource.Controller
	join             JoinPolicy
	keys             []string
	label            string
	indexSep         string
}

// Option configures containers, datasets and concatenation.
type Option func(*options)

// WithStoreOptions passes options to the underlying cas.Store, e.g.
// cas.WithCompression or cas.WithInMemory.
func WithStoreOptions(opts ...cas.Option) Option {
	return func(o *options) {
		o.storeOpts = append(o.storeOpts, opts...)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController bounds dataset fan-out and store I/O.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithJoin sets the var join policy. The default is JoinInner.
func WithJoin(p JoinPolicy) Option {
	return func(o *options) {
		o.join = p
	}
}

// WithKeys names the containers of a dataset or concatenation. The names
// become the categories of the label column.
func WithKeys(keys ...string) Option {
	return func(o *options) {
		o.keys = keys
	}
}

// WithLabelColumn sets the obs column recording each row's source. Empty
// disables it.
func WithLabelColumn(name string) Option {
	return func(o *options) {
		o.label = name
	}
}

// WithIndexSeparator makes concatenated obs names unique by appending
// separator and container key. Without it, names are kept as they are
// unless containers share one, in which case frame.DefaultIndexSeparator
// is used.
func WithIndexSeparator(sep string) Option {
	return func(o *options) {
		o.indexSep = sep
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		label:            DefaultLabelColumn,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// casOptions returns the store options with the logger and resource
// controller threaded through.
func (o options) casOptions() []cas.Option {
	opts := []cas.Option{cas.WithLogger(o.logger.Logger)}
	if o.rc != nil {
		opts = append(opts, cas.WithResourceController(o.rc))
	}
	return append(opts, o.storeOpts...)
}
