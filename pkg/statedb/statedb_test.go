package statedb

import (
	"reflect"
	"testing"
)

func TestNeighborKeys(t *testing.T) {
	got := neighborKeys("10.0.1.1")
	want := []string{
		"BGP_NEIGHBOR_TABLE|default|10.0.1.1",
		"BGP_NEIGHBOR_TABLE|10.0.1.1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("neighborKeys = %v, want %v", got, want)
	}
}
