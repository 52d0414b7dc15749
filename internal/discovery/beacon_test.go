package discovery

import (
	"errors"
	"testing"
)

func TestParseBeacon(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    Beacon
		wantErr bool
	}{
		{
			name: "address and name",
			data: []byte("ESPLEDS\x10192.168.1.6|Lamp"),
			want: Beacon{Address: "192.168.1.6", Name: "Lamp"},
		},
		{
			name: "empty name",
			data: []byte("ESPLEDS\x0c192.168.1.6|"),
			want: Beacon{Address: "192.168.1.6", Name: ""},
		},
		{
			name: "trailing bytes ignored",
			data: append([]byte("ESPLEDS\x0c10.0.0.12|Tv"), 0, 0, 0, 'x'),
			want: Beacon{Address: "10.0.0.12", Name: "Tv"},
		},
		{
			name: "length byte above 127 is unsigned",
			data: append([]byte("ESPLEDS\x83"), []byte("10.0.0.1|"+string(make([]byte, 122)))...),
			want: Beacon{Address: "10.0.0.1", Name: string(make([]byte, 122))},
		},
		{name: "wrong prefix", data: []byte("ESPLEDX\x0c192.168.1.6|"), wantErr: true},
		{name: "prefix only", data: []byte("ESPLEDS"), wantErr: true},
		{name: "empty", data: nil, wantErr: true},
		{name: "declared length past end", data: []byte("ESPLEDS\x40192.168.1.6|Lamp"), wantErr: true},
		{name: "one field", data: []byte("ESPLEDS\x0b192.168.1.6"), wantErr: true},
		{name: "three fields", data: []byte("ESPLEDS\x0f192.168.1.6|a|b"), wantErr: true},
		{name: "empty address", data: []byte("ESPLEDS\x05|Lamp"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBeacon(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedBeacon) {
					t.Errorf("ParseBeacon() error = %v, want ErrMalformedBeacon", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBeacon() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseBeacon() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseBeacon_LengthByteMismatch(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Beacon
	}{
		// Declared 8 bytes ("192.168.") is not a valid payload, the remainder is.
		{"undercounted length", "ESPLEDS\x08192.168.1.6|Lamp", Beacon{Address: "192.168.1.6", Name: "Lamp"}},
		{"undercounted with padding", "ESPLEDS\x08192.168.1.6|Lamp\x00\x00", Beacon{Address: "192.168.1.6", Name: "Lamp"}},
		// Declared 14 bytes is itself valid, so the remainder is ignored.
		{"valid shorter payload wins", "ESPLEDS\x0e192.168.1.6|Lamp", Beacon{Address: "192.168.1.6", Name: "La"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBeacon([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseBeacon() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseBeacon() = %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := ParseBeacon([]byte("ESPLEDS\x08192.168.1.6|a|b")); !errors.Is(err, ErrMalformedBeacon) {
		t.Errorf("ParseBeacon() error = %v, want ErrMalformedBeacon when neither reading is valid", err)
	}
}

func TestBeacon_MarshalBinary(t *testing.T) {
	b := Beacon{Address: "192.168.1.6", Name: "Lamp"}
	data, err := b.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if string(data) != "ESPLEDS\x10192.168.1.6|Lamp" {
		t.Errorf("MarshalBinary() = %q", data)
	}

	long := Beacon{Address: "10.0.0.1", Name: string(make([]byte, 250))}
	if _, err := long.MarshalBinary(); !errors.Is(err, ErrPayloadTooLong) {
		t.Errorf("MarshalBinary() error = %v, want ErrPayloadTooLong", err)
	}
}

func TestDevice_DisplayName(t *testing.T) {
	if got := (Device{Address: "10.0.0.2"}).DisplayName(); got != "10.0.0.2" {
		t.Errorf("DisplayName() = %q, want address", got)
	}
	if got := (Device{Address: "10.0.0.2", Name: "Desk"}).DisplayName(); got != "Desk" {
		t.Errorf("DisplayName() = %q, want Desk", got)
	}
}
