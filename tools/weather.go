// tools/weather.go
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sammcj/toolloop/registry"
)

// WeatherInput selects the city and temperature unit
type WeatherInput struct {
	City string `json:"city" jsonschema_description:"City, e.g., 'Calgary'"`
	Unit string `json:"unit,omitempty" jsonschema:"enum=c,enum=f,default=c"`
}

// WeatherReport is the result of get_weather
type WeatherReport struct {
	City      string  `json:"city"`
	Temp      float64 `json:"temp"`
	Unit      string  `json:"unit"`
	Condition string  `json:"condition"`
}

// WeatherTool returns the get_weather tool
func WeatherTool() registry.Tool {
	return registry.NewTool("get_weather", "Get current weather by city name.", GetWeather)
}

// GetWeather is a stub; replace with a real provider lookup when one is wired
func GetWeather(ctx context.Context, in WeatherInput) (interface{}, error) {
	if strings.TrimSpace(in.City) == "" {
		return nil, fmt.Errorf("city must not be empty")
	}
	unit := in.Unit
	if unit == "" {
		unit = "c"
	}

	temp := 18.5
	if unit == "f" {
		temp = temp*9/5 + 32
	}

	return WeatherReport{City: in.City, Temp: temp, Unit: unit, Condition: "Sunny"}, nil
}
