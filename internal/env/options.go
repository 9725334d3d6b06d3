package env

const (
	LoadEnvdirKey = "load_envdir"
	UnsetKey      = "unset"
)

type Option interface {
	Name() string
	Value() interface{}
}

type option struct {
	name  string
	value interface{}
}

func (o *option) Name() string {
	return o.name
}

func (o *option) Value() interface{} {
	return o.value
}

// WithLoadEnvdir specifies if Loader should merge the contents of
// envdir on top of the original environment variables
func WithLoadEnvdir(b bool) Option {
	return &option{
		name:  LoadEnvdirKey,
		value: b,
	}
}

// WithUnset removes keys from the result, whatever their source.
func WithUnset(keys ...string) Option {
	return &option{
		name:  UnsetKey,
		value: keys,
	}
}
