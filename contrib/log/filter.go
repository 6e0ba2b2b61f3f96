package log

// FilterOption is filter option.
type FilterOption func(*Filter)

// FilterLevel with filter level.
func FilterLevel(level Level) FilterOption {
	return func(opts *Filter) {
		opts.level = level
	}
}

// FilterKey with filter key; the value logged after a matching key is masked.
func FilterKey(key ...string) FilterOption {
	return func(o *Filter) {
		for _, v := range key {
			o.key[v] = struct{}{}
		}
	}
}

const fuzzyStr = "***"

// Filter is a logger filter.
type Filter struct {
	logger Logger
	level  Level
	key    map[any]struct{}
}

// NewFilter new a logger filter.
func NewFilter(logger Logger, opts ...FilterOption) *Filter {
	options := Filter{
		logger: logger,
		key:    make(map[any]struct{}),
	}
	for _, o := range opts {
		o(&options)
	}
	return &options
}

// Log Print log by level and keyvals.
func (f *Filter) Log(level Level, keyvals ...any) error {
	if level < f.level {
		return nil
	}
	if len(f.key) > 0 {
		for i := 0; i < len(keyvals)-1; i += 2 {
			if _, ok := f.key[keyvals[i]]; ok {
				keyvals[i+1] = fuzzyStr
			}
		}
	}
	return f.logger.Log(level, keyvals...)
}

func (f *Filter) Enabled(level Level) bool {
	return level >= f.level && enabled(f.logger, level)
}
