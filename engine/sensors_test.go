package engine

import (
	"context"
	"testing"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"temperature", Temperature, false},
		{"Humidity", Humidity, false},
		{"VOLTAGE", Voltage, false},
		{"radiation", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCategory(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategory_String(t *testing.T) {
	if got := Pressure.String(); got != "pressure" {
		t.Errorf("got %q", got)
	}
	if got := Category(42).String(); got != "category(42)" {
		t.Errorf("got %q", got)
	}
}

func TestReading_String(t *testing.T) {
	tests := []struct {
		r    Reading
		want string
	}{
		{Reading{Value: 215, Scaling: -1, Unit: "Cel"}, "21.5 Cel"},
		{Reading{Value: 3, Scaling: 2, Unit: "lx"}, "300 lx"},
		{Reading{Value: 45, Unit: "%RH"}, "45 %RH"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFakeSensors_Jitter(t *testing.T) {
	s := NewFakeSensors(5, 7)
	for range 100 {
		r, err := s.Read(context.Background(), Illuminance)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if r.Value < 295 || r.Value > 305 {
			t.Fatalf("value %d outside jitter bounds", r.Value)
		}
	}
}

func TestFakeSensors_ZeroValue(t *testing.T) {
	var s FakeSensors
	if _, err := s.Read(context.Background(), Temperature); err == nil {
		t.Fatal("expected error from empty source")
	}
	s.Set(Temperature, Reading{Value: 1})
	r, err := s.Read(context.Background(), Temperature)
	if err != nil || r.Value != 1 {
		t.Fatalf("Read = %v, %v", r, err)
	}
}
