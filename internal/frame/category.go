package frame

import (
	"fmt"
	"strings"
)

// Category is a bit set of reportable measurements
type Category uint8

const (
	Temperature Category = 1 << iota
	Humidity
	CO2
	VOC
	GPIO0
	GPIO1

	None Category = 0
	All           = Temperature | Humidity | CO2 | VOC | GPIO0 | GPIO1
)

// order is the wire order of records
var order = []struct {
	cat  Category
	name string
	tag  byte
	size int
}{
	{Temperature, "temperature", TagTemperature, 3},
	{Humidity, "humidity", TagHumidity, 2},
	{CO2, "co2", TagCO2, 2},
	{VOC, "voc", TagVOC, 2},
	{GPIO0, "gpio0", TagGPIO0, 1},
	{GPIO1, "gpio1", TagGPIO1, 1},
}

// Has reports whether every bit of c is set
func (s Category) Has(c Category) bool {
	return s&c == c
}

func (s Category) String() string {
	var names []string
	for _, o := range order {
		if s.Has(o.cat) {
			names = append(names, o.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseCategories turns configuration names into a set
func ParseCategories(names []string) (Category, error) {
	var set Category
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		found := false
		for _, o := range order {
			if o.name == key {
				set |= o.cat
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("unknown sensor category: %q", n)
		}
	}
	return set, nil
}

// Size returns the length of the frame Encode produces for the set
func Size(enabled Category) int {
	n := 0
	for _, o := range order {
		if enabled.Has(o.cat) {
			n += 2 + o.size
		}
	}
	if n == 0 {
		return 0
	}
	return HeaderLen + n
}
