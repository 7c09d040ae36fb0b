package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Slot identifies one of the seven control records sent round-robin to the
// radio. Byte 0 of each record is the C0 address.
type Slot int

const (
	SlotGeneral Slot = iota
	SlotRX1TXFreq
	SlotRX1Freq
	SlotRX2Freq
	SlotRX3Freq
	SlotMisc1
	SlotMisc2
	NumSlots
)

var defaultAddress = [NumSlots]byte{0x00, 0x02, 0x04, 0x06, 0x08, 0x12, 0x14}

var slotNames = [NumSlots]string{"general", "rx1_tx_freq", "rx1_freq", "rx2_freq", "rx3_freq", "misc1", "misc2"}

func (s Slot) String() string {
	if s < 0 || s >= NumSlots {
		return fmt.Sprintf("Slot(%d)", int(s))
	}
	return slotNames[s]
}

// Control byte positions within a record
const (
	CC0 = iota
	CC1
	CC2
	CC3
	CC4
)

const moxBit = 0x01

var (
	ErrInvalidSetting = errors.New("invalid setting")
	ErrInvalidValue   = errors.New("value out of range")
)

// Setting names an entry in the control byte catalogue.
type Setting int

const (
	SettingSpeed Setting = iota
	Setting10MHzRef
	Setting122MHzRef
	SettingBoardConfig
	SettingMicSource
	SettingAttenuator
	SettingPreamp
	SettingRXAntenna
	SettingRXOut
	SettingTXRelay
	SettingDuplex
	SettingNumRX
	SettingAlexManual
	SettingHPFBypass
	SettingLPF30_20
	SettingLPF60_40
	SettingLPF80
	SettingLPF160
	SettingLPF6
	SettingLPF12_10
	SettingLPF17_15
	SettingHPF13
	SettingHPF20
	SettingHPF9_5
	SettingHPF6_5
	SettingHPF1_5
	numSettings
)

// Values for the enumerated settings
const (
	Speed48k = iota
	Speed96k
	Speed192k
	Speed384k
)

const (
	Ref10MHzAtlas = iota
	Ref10MHzPenelope
	Ref10MHzMercury
)

const (
	Ref122MHzPenelope = iota
	Ref122MHzMercury
)

const (
	BoardNone = iota
	BoardPenelope
	BoardMercury
	BoardBoth
)

const (
	MicJanus = iota
	MicPenelope
)

const (
	Attenuator0dB = iota
	Attenuator10dB
	Attenuator20dB
	Attenuator30dB
)

const (
	AntennaNone = iota
	Antenna1
	Antenna2
	AntennaXV
)

const (
	TXRelay1 = iota
	TXRelay2
	TXRelay3
)

// Off and On are the values of every two-state setting.
const (
	Off = 0
	On  = 1
)

// field locates a setting: the record, the byte within it, the byte value
// for each setting value and the mask of bits the setting must preserve.
type field struct {
	name  string
	slot  Slot
	index int
	table []byte
	mask  byte
}

var catalogue = [numSettings]field{
	SettingSpeed:       {"speed", SlotGeneral, CC1, []byte{0x00, 0x01, 0x02, 0x03}, 0xfc},
	Setting10MHzRef:    {"ref_10mhz", SlotGeneral, CC1, []byte{0x00, 0x04, 0x08}, 0xf3},
	Setting122MHzRef:   {"ref_122mhz", SlotGeneral, CC1, []byte{0x00, 0x10}, 0xef},
	SettingBoardConfig: {"board_config", SlotGeneral, CC1, []byte{0x00, 0x20, 0x40, 0x60}, 0x9f},
	SettingMicSource:   {"mic_source", SlotGeneral, CC1, []byte{0x00, 0x80}, 0x7f},
	SettingAttenuator:  {"attenuator", SlotGeneral, CC3, []byte{0x00, 0x01, 0x02, 0x03}, 0xfc},
	SettingPreamp:      {"preamp", SlotGeneral, CC3, []byte{0x00, 0x04}, 0xfb},
	SettingRXAntenna:   {"rx_antenna", SlotGeneral, CC3, []byte{0x00, 0x20, 0x40, 0x60}, 0x9f},
	SettingRXOut:       {"rx_out", SlotGeneral, CC3, []byte{0x00, 0x80}, 0x7f},
	SettingTXRelay:     {"tx_relay", SlotGeneral, CC4, []byte{0x00, 0x01, 0x02}, 0xfc},
	SettingDuplex:      {"duplex", SlotGeneral, CC4, []byte{0x00, 0x04}, 0xfb},
	SettingNumRX:       {"num_rx", SlotGeneral, CC4, []byte{0x00, 0x08, 0x10}, 0xc7},
	SettingAlexManual:  {"alex_manual", SlotMisc1, CC2, []byte{0x00, 0x40}, 0xbf},
	SettingHPFBypass:   {"hpf_bypass", SlotMisc1, CC3, []byte{0x00, 0x20}, 0xdf},
	SettingLPF30_20:    {"lpf_30_20", SlotMisc1, CC4, []byte{0x00, 0x01}, 0xfe},
	SettingLPF60_40:    {"lpf_60_40", SlotMisc1, CC4, []byte{0x00, 0x02}, 0xfd},
	SettingLPF80:       {"lpf_80", SlotMisc1, CC4, []byte{0x00, 0x04}, 0xfb},
	SettingLPF160:      {"lpf_160", SlotMisc1, CC4, []byte{0x00, 0x08}, 0xf7},
	SettingLPF6:        {"lpf_6", SlotMisc1, CC4, []byte{0x00, 0x10}, 0xef},
	SettingLPF12_10:    {"lpf_12_10", SlotMisc1, CC4, []byte{0x00, 0x20}, 0xdf},
	SettingLPF17_15:    {"lpf_17_15", SlotMisc1, CC4, []byte{0x00, 0x40}, 0xbf},
	SettingHPF13:       {"hpf_13", SlotMisc1, CC3, []byte{0x00, 0x01}, 0xfe},
	SettingHPF20:       {"hpf_20", SlotMisc1, CC3, []byte{0x00, 0x02}, 0xfd},
	SettingHPF9_5:      {"hpf_9_5", SlotMisc1, CC3, []byte{0x00, 0x04}, 0xfb},
	SettingHPF6_5:      {"hpf_6_5", SlotMisc1, CC3, []byte{0x00, 0x08}, 0xf7},
	SettingHPF1_5:      {"hpf_1_5", SlotMisc1, CC3, []byte{0x00, 0x10}, 0xef},
}

var settingsByName = func() map[string]Setting {
	m := make(map[string]Setting, numSettings)
	for i, f := range catalogue {
		m[f.name] = Setting(i)
	}
	return m
}()

func (s Setting) String() string {
	if s < 0 || s >= numSettings {
		return fmt.Sprintf("Setting(%d)", int(s))
	}
	return catalogue[s].name
}

// Location returns the record, byte index and preserved-bit mask of s.
func (s Setting) Location() (Slot, int, byte) {
	f := catalogue[s]
	return f.slot, f.index, f.mask
}

// Values returns the number of accepted values for s.
func (s Setting) Values() int {
	return len(catalogue[s].table)
}

// ParseSetting looks up a setting by its catalogue name.
func ParseSetting(name string) (Setting, error) {
	s, ok := settingsByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSetting, name)
	}
	return s, nil
}

// SettingNames returns every catalogue name in sorted order.
func SettingNames() []string {
	names := make([]string, 0, numSettings)
	for _, f := range catalogue {
		names = append(names, f.name)
	}
	sort.Strings(names)
	return names
}

// SpeedForRate maps a sample rate to its speed setting value.
func SpeedForRate(rate int) (int, error) {
	switch rate {
	case 48000:
		return Speed48k, nil
	case 96000:
		return Speed96k, nil
	case 192000:
		return Speed192k, nil
	case 384000:
		return Speed384k, nil
	default:
		return 0, fmt.Errorf("%w: unsupported sample rate %d", ErrInvalidValue, rate)
	}
}

// ControlStore holds the seven control records, the round-robin index and
// the MOX flag. Every access goes through one mutex so the encoder never
// sees a half-applied change.
type ControlStore struct {
	mu      sync.Mutex
	records [NumSlots][ControlSize]byte
	next    int
	mox     bool
}

// NewControlStore returns a store initialised to the power-on defaults.
func NewControlStore() *ControlStore {
	s := &ControlStore{}
	s.Reset()
	return s
}

// startupSettings are applied by Reset on top of the zeroed records.
var startupSettings = []struct {
	setting Setting
	value   int
}{
	{SettingSpeed, Speed48k},
	{Setting10MHzRef, Ref10MHzMercury},
	{Setting122MHzRef, Ref122MHzMercury},
	{SettingBoardConfig, BoardBoth},
	{SettingMicSource, MicPenelope},
	{SettingAttenuator, Attenuator0dB},
	{SettingPreamp, Off},
	{SettingRXAntenna, AntennaNone},
	{SettingRXOut, Off},
	{SettingTXRelay, TXRelay1},
	{SettingDuplex, Off},
	{SettingNumRX, 0},
}

const startupFrequency = 7100000

// Reset restores the default records and applies the start-up settings
// in one critical section.
func (s *ControlStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		s.records[i] = [ControlSize]byte{defaultAddress[i]}
	}
	s.next = 0
	s.mox = false

	for _, d := range startupSettings {
		f := catalogue[d.setting]
		s.setFieldLocked(f.slot, f.index, f.table[d.value], f.mask)
	}
	s.setRX1Locked(startupFrequency)
}

// SetField replaces the bits of one control byte that mask leaves clear
// with table[value]; bits set in mask are preserved.
func (s *ControlStore) SetField(slot Slot, index int, value int, table []byte, mask byte) error {
	if slot < 0 || slot >= NumSlots {
		return fmt.Errorf("%w: slot %d", ErrInvalidValue, slot)
	}
	if index < CC0 || index > CC4 {
		return fmt.Errorf("%w: byte index %d", ErrInvalidValue, index)
	}
	if value < 0 || value >= len(table) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidValue, value, len(table))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFieldLocked(slot, index, table[value], mask)
	return nil
}

func (s *ControlStore) setFieldLocked(slot Slot, index int, pattern byte, mask byte) {
	current := s.records[slot][index]
	s.records[slot][index] = (pattern &^ mask) | (current & mask)
}

// Set applies a catalogue setting.
func (s *ControlStore) Set(setting Setting, value int) error {
	if setting < 0 || setting >= numSettings {
		return fmt.Errorf("%w: %d", ErrInvalidSetting, int(setting))
	}
	f := catalogue[setting]
	if err := s.SetField(f.slot, f.index, value, f.table, f.mask); err != nil {
		return fmt.Errorf("%s: %w", f.name, err)
	}
	return nil
}

// Get returns the current value index of a catalogue setting, or -1 if
// the byte holds a pattern that is not in the table.
func (s *ControlStore) Get(setting Setting) int {
	f := catalogue[setting]
	b := s.Byte(f.slot, f.index) &^ f.mask
	for i, v := range f.table {
		if v == b {
			return i
		}
	}
	return -1
}

// Byte returns one control byte.
func (s *ControlStore) Byte(slot Slot, index int) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[slot][index]
}

// SetFrequency writes hz big-endian into bytes 1-4 of slot.
func (s *ControlStore) SetFrequency(slot Slot, hz uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binary.BigEndian.PutUint32(s.records[slot][CC1:], hz)
}

// Frequency reads the frequency held in slot.
func (s *ControlStore) Frequency(slot Slot) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return binary.BigEndian.Uint32(s.records[slot][CC1:])
}

// SetRXFrequency tunes receiver rx (1-based). In simplex the first receiver
// shares its NCO with the transmitter, so RX1 is mirrored into the TX slot.
func (s *ControlStore) SetRXFrequency(rx int, hz uint32) error {
	switch rx {
	case 1:
		s.mu.Lock()
		s.setRX1Locked(hz)
		s.mu.Unlock()
	case 2:
		s.SetFrequency(SlotRX2Freq, hz)
	case 3:
		s.SetFrequency(SlotRX3Freq, hz)
	default:
		return fmt.Errorf("%w: receiver %d", ErrInvalidValue, rx)
	}
	return nil
}

func (s *ControlStore) setRX1Locked(hz uint32) {
	binary.BigEndian.PutUint32(s.records[SlotRX1Freq][CC1:], hz)
	if s.records[SlotGeneral][CC4]&catalogue[SettingDuplex].table[On] == 0 {
		binary.BigEndian.PutUint32(s.records[SlotRX1TXFreq][CC1:], hz)
	}
}

// SetTXFrequency tunes the transmitter NCO.
func (s *ControlStore) SetTXFrequency(hz uint32) {
	s.SetFrequency(SlotRX1TXFreq, hz)
}

// SetMOX sets the transmit/receive flag applied to outgoing records.
func (s *ControlStore) SetMOX(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mox = on
}

// MOX reports the transmit/receive flag.
func (s *ControlStore) MOX() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mox
}

// NextForTransmission returns a copy of the next record in round-robin
// order with the MOX bit applied, and advances the index.
func (s *ControlStore) NextForTransmission() [ControlSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[s.next]
	if s.mox {
		record[CC0] |= moxBit
	} else {
		record[CC0] &^= moxBit
	}

	s.next++
	if s.next >= int(NumSlots) {
		s.next = 0
	}
	return record
}

// Rewind restarts the round-robin at the first record.
func (s *ControlStore) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
}

// Snapshot returns a copy of every record.
func (s *ControlStore) Snapshot() [NumSlots][ControlSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}
