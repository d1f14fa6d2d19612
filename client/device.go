package client

import "slices"

// Device builds a heyOOCSI device description and publishes it once so
// dashboards and home-automation bridges can pick the device up. It is a
// pure consumer of the client's publish surface.

// AnnounceChannel is the well-known channel device descriptions are
// published to.
const AnnounceChannel = "heyOOCSI!"

var (
	lightSpectrums = []string{"WHITE", "CCT", "RGB"}
	lightLEDTypes  = []string{"RGB", "RGBW", "RGBWW", "CCT", "DIMMABLE", "ONOFF"}
)

type Device struct {
	client *Client
	name   string

	properties map[string]any
	location   map[string][2]float64
	components map[string]map[string]any
}

// HeyOOCSI creates a device description. An empty name uses the client's
// handle. The client handle is always carried as the device_id property.
func (c *Client) HeyOOCSI(name string) *Device {
	if name == "" {
		name = c.handle
	}
	d := &Device{
		client:     c,
		name:       name,
		properties: map[string]any{"device_id": c.handle},
		location:   make(map[string][2]float64),
		components: make(map[string]map[string]any),
	}
	c.log.Info("created device", "device", name)
	return d
}

// AddProperty adds a free-form property to the device.
func (d *Device) AddProperty(name string, value any) *Device {
	d.properties[name] = value
	d.client.log.Info("added property", "device", d.name, "property", name)
	return d
}

// AddLocation adds a named location with coordinates.
func (d *Device) AddLocation(name string, latitude, longitude float64) *Device {
	d.location[name] = [2]float64{latitude, longitude}
	d.client.log.Info("added location", "device", d.name, "location", name)
	return d
}

// AddSensor adds a sensor component reporting on its own channel.
func (d *Device) AddSensor(name, channel, sensorType, unit string, defaultValue float64, icon string) *Device {
	d.components[name] = map[string]any{
		"channel_name": channel,
		"type":         "sensor",
		"sensor_type":  sensorType,
		"unit":         unit,
		"value":        defaultValue,
		"mode":         "auto",
		"icon":         iconOrNil(icon),
	}
	d.client.log.Info("added component", "device", d.name, "component", name, "type", "sensor")
	return d
}

// AddNumber adds a numeric input component with a value range.
func (d *Device) AddNumber(name, channel string, min, max float64, unit string, defaultValue float64, icon string) *Device {
	d.components[name] = map[string]any{
		"channel_name": channel,
		"type":         "number",
		"min_max":      [2]float64{min, max},
		"unit":         unit,
		"value":        defaultValue,
		"icon":         iconOrNil(icon),
	}
	d.client.log.Info("added component", "device", d.name, "component", name, "type", "number")
	return d
}

// AddBinarySensor adds an on/off sensor component.
func (d *Device) AddBinarySensor(name, channel, sensorType string, defaultState bool, icon string) *Device {
	d.components[name] = map[string]any{
		"channel_name": channel,
		"type":         "binary_sensor",
		"sensor_type":  sensorType,
		"state":        defaultState,
		"icon":         iconOrNil(icon),
	}
	d.client.log.Info("added component", "device", d.name, "component", name, "type", "binary_sensor")
	return d
}

// AddSwitch adds a switch component.
func (d *Device) AddSwitch(name, channel string, defaultState bool, icon string) *Device {
	d.components[name] = map[string]any{
		"channel_name": channel,
		"type":         "switch",
		"state":        defaultState,
		"icon":         iconOrNil(icon),
	}
	d.client.log.Info("added component", "device", d.name, "component", name, "type", "switch")
	return d
}

// AddLight adds a light component. Unknown LED types or spectrums are
// logged and the component is skipped.
func (d *Device) AddLight(name, channel, ledType, spectrum string, defaultState bool, defaultBrightness int, icon string) *Device {
	if !slices.Contains(lightLEDTypes, ledType) {
		d.client.log.Error("unknown led type", "device", d.name, "component", name, "led_type", ledType)
		return d
	}
	if !slices.Contains(lightSpectrums, spectrum) {
		d.client.log.Error("unknown light spectrum", "device", d.name, "component", name, "spectrum", spectrum)
		return d
	}
	d.components[name] = map[string]any{
		"channel_name": channel,
		"type":         "light",
		"ledType":      ledType,
		"spectrum":     spectrum,
		"state":        defaultState,
		"brightness":   defaultBrightness,
		"icon":         iconOrNil(icon),
	}
	d.client.log.Info("added component", "device", d.name, "component", name, "type", "light")
	return d
}

// Submit publishes the device description to the announce channel.
func (d *Device) Submit() error {
	description := map[string]any{
		d.name: map[string]any{
			"properties": d.properties,
			"components": d.components,
			"location":   d.location,
		},
	}
	if err := d.client.Publish(AnnounceChannel, description); err != nil {
		return err
	}
	d.client.log.Info("submitted device description", "device", d.name)
	return nil
}

// SayHi is an alias for Submit.
func (d *Device) SayHi() error {
	return d.Submit()
}

func iconOrNil(icon string) any {
	if icon == "" {
		return nil
	}
	return icon
}
