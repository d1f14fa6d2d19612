package client

import "sync"

// Variable is a channel-backed value with optional clamping and
// moving-average smoothing. It is a pure consumer of the client's
// publish/subscribe surface and carries no protocol state.
type Variable struct {
	client  *Client
	channel string
	key     string

	mu     sync.Mutex
	value  any
	window int
	values []float64
	min    *float64
	max    *float64
	sigma  *float64
}

// Variable creates a variable bound to one key on one channel and subscribes
// to the channel so remote updates flow in.
func (c *Client) Variable(channel, key string) *Variable {
	v := &Variable{client: c, channel: channel, key: key}
	c.Subscribe(channel, v.receive)
	return v
}

// Min sets the lower bound and clamps the current value to it.
func (v *Variable) Min(min float64) *Variable {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.min = &min
	if f, ok := toFloat(v.value); ok && f < min {
		v.value = min
	}
	return v
}

// Max sets the upper bound and clamps the current value to it.
func (v *Variable) Max(max float64) *Variable {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.max = &max
	if f, ok := toFloat(v.value); ok && f > max {
		v.value = max
	}
	return v
}

// Smooth keeps a moving window of the last windowLength values; Get then
// returns their mean. A positive sigma limits how far a new value may pull
// away from that mean.
func (v *Variable) Smooth(windowLength int, sigma float64) *Variable {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.window = windowLength
	if sigma > 0 {
		v.sigma = &sigma
	} else {
		v.sigma = nil
	}
	return v
}

// Get returns the current value: the window mean when smoothing is active,
// the last stored value otherwise.
func (v *Variable) Get() any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentLocked()
}

// Set stores the value, after clamping and smoothing, and publishes the
// adjusted value to the channel.
func (v *Variable) Set(value any) {
	v.mu.Lock()
	adjusted := v.adjustLocked(value)
	v.storeLocked(adjusted)
	v.mu.Unlock()

	v.client.Publish(v.channel, map[string]any{v.key: adjusted})
}

// receive feeds remote updates for the key through the same constraints.
func (v *Variable) receive(_, _ string, data map[string]any) {
	raw, ok := data[v.key]
	if !ok {
		return
	}
	v.mu.Lock()
	v.storeLocked(v.adjustLocked(raw))
	v.mu.Unlock()
}

func (v *Variable) currentLocked() any {
	if v.window > 0 && len(v.values) > 0 {
		var sum float64
		for _, x := range v.values {
			sum += x
		}
		return sum / float64(len(v.values))
	}
	return v.value
}

// adjustLocked applies bounds and the sigma pull. Non-numeric values pass
// through untouched; constraints only make sense for numbers.
func (v *Variable) adjustLocked(value any) any {
	f, ok := toFloat(value)
	if !ok {
		return value
	}

	switch {
	case v.min != nil && f < *v.min:
		f = *v.min
	case v.max != nil && f > *v.max:
		f = *v.max
	case v.sigma != nil && len(v.values) > 0:
		mean, _ := toFloat(v.currentLocked())
		if diff := mean - f; diff > *v.sigma {
			f = mean - *v.sigma/float64(len(v.values))
		} else if -diff > *v.sigma {
			f = mean + *v.sigma/float64(len(v.values))
		}
	}
	return f
}

func (v *Variable) storeLocked(value any) {
	if v.window > 0 {
		if f, ok := toFloat(value); ok {
			v.values = append(v.values, f)
			if len(v.values) > v.window {
				v.values = v.values[len(v.values)-v.window:]
			}
			return
		}
	}
	v.value = value
}

func toFloat(value any) (float64, bool) {
	switch x := value.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
