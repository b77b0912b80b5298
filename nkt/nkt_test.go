package nkt

import (
	"bytes"
	"testing"

	"github.com/nasa-jpl/labsweep/generichttp/laser"
)

func TestMakeTelegram(t *testing.T) {
	mp := MessagePrimitive{Dest: 0x10, Src: 0xA1, Type: Read, Register: RegSWP}
	tele, err := MakeTelegram(mp)
	if err != nil {
		t.Fatal(err)
	}
	exp := []byte{0x0D, 0x10, 0xA1, 0x04, 0x33, 0x5B, 0xFF, 0x0A}
	if !bytes.Equal(tele, exp) {
		t.Errorf("expected % X, got % X", exp, tele)
	}
}

func TestTelegramEscapesSpecialCharacters(t *testing.T) {
	mp := MessagePrimitive{Dest: 0x0A, Src: 0xA2, Type: Write, Register: 0x0D, Data: []byte{0x5E, 0x0D, 0x00}}
	tele, err := MakeTelegram(mp)
	if err != nil {
		t.Fatal(err)
	}
	inner := tele[1 : len(tele)-1]
	if bytes.IndexByte(inner, telStart) != -1 || bytes.IndexByte(inner, telEnd) != -1 {
		t.Fatalf("telegram body % X contains an unescaped framing byte", inner)
	}
	got, err := DecodeTelegram(tele)
	if err != nil {
		t.Fatal(err)
	}
	if got.Dest != mp.Dest || got.Register != mp.Register || !bytes.Equal(got.Data, mp.Data) {
		t.Errorf("expected %v, got %v", mp, got)
	}
}

func TestDecodeTelegramCRCMismatch(t *testing.T) {
	tele := []byte{0x0D, 0x10, 0xA1, 0x04, 0x33, 0x5B, 0xFE, 0x0A}
	if _, err := DecodeTelegram(tele); err != ErrCRC {
		t.Errorf("expected ErrCRC, got %v", err)
	}
}

func TestDecodeTelegramFraming(t *testing.T) {
	if _, err := DecodeTelegram([]byte{0x10, 0x0A}); err == nil {
		t.Error("expected an error for a telegram with no start byte")
	}
	if _, err := DecodeTelegram([]byte{0x0D, 0x10}); err == nil {
		t.Error("expected an error for a telegram with no end byte")
	}
	if _, err := DecodeTelegram([]byte{0x0D, 0x10, 0x0A}); err == nil {
		t.Error("expected an error for a short telegram")
	}
}

func TestInvalidMessageType(t *testing.T) {
	if _, err := MakeTelegram(MessagePrimitive{Type: 42}); err == nil {
		t.Error("expected an error for message type 42")
	}
}

func TestSourceAddrWraps(t *testing.T) {
	seen := map[byte]bool{}
	for i := 0; i < 300; i++ {
		a := getSourceAddr()
		if a < minSourceAddr {
			t.Fatalf("source address %#02x below minimum", a)
		}
		seen[a] = true
	}
	if len(seen) != 0xFF-minSourceAddr+1 {
		t.Errorf("expected every address to be used, saw %d", len(seen))
	}
}

func TestVariaClosed(t *testing.T) {
	s, _ := NewMockSuperKVaria(10)
	if s.IsOpen() {
		t.Fatal("source should start closed")
	}
	if _, err := s.Wavelength(); err != ErrNotOpen {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
}

func TestVariaOpenReadsPassband(t *testing.T) {
	s, dev := NewMockSuperKVaria(10)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	cb, err := s.GetCenterBandwidth()
	if err != nil {
		t.Fatal(err)
	}
	if cb.Center != 550 || cb.Bandwidth != 100 {
		t.Errorf("expected 550/100, got %+v", cb)
	}
	if em := dev.Register(DefaultMainAddr, RegEmission); len(em) != 1 || em[0] != 1 {
		t.Errorf("expected emission to be switched on, register holds % X", em)
	}
}

func TestVariaSetWavelengthKeepsBandwidth(t *testing.T) {
	s, dev := NewMockSuperKVaria(10)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCenterBandwidth(laser.CenterBandwidth{Center: 500, Bandwidth: 20}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetWavelength(600); err != nil {
		t.Fatal(err)
	}
	lo := dataOrder.Uint16(dev.Register(DefaultVariaAddr, RegLWP))
	hi := dataOrder.Uint16(dev.Register(DefaultVariaAddr, RegSWP))
	if lo != 5900 || hi != 6100 {
		t.Errorf("expected edges 5900/6100, got %d/%d", lo, hi)
	}
	wvl, err := s.Wavelength()
	if err != nil {
		t.Fatal(err)
	}
	bw, err := s.Bandwidth()
	if err != nil {
		t.Fatal(err)
	}
	if wvl != 600 || bw != 20 {
		t.Errorf("expected 600/20, got %f/%f", wvl, bw)
	}
}

func TestVariaRepetitionRate(t *testing.T) {
	s, _ := NewMockSuperKVaria(10)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	f, err := s.RepetitionRate()
	if err != nil {
		t.Fatal(err)
	}
	if f != 78000 {
		t.Errorf("expected 78000 kHz, got %f", f)
	}
}

func TestVariaUnknownRegisterIsNacked(t *testing.T) {
	s, _ := NewMockSuperKVaria(10)
	if _, err := s.Varia.ReadU16(RegND); err == nil {
		t.Error("expected a Nack for an unpopulated register")
	}
}

func TestVariaSatisfiesInterfaces(t *testing.T) {
	var s interface{} = &SuperKVaria{}
	if _, ok := s.(laser.Tunable); !ok {
		t.Error("SuperKVaria is not a laser.Tunable")
	}
	if _, ok := s.(laser.BandwidthController); !ok {
		t.Error("SuperKVaria is not a laser.BandwidthController")
	}
	if _, ok := s.(laser.RepetitionRater); !ok {
		t.Error("SuperKVaria is not a laser.RepetitionRater")
	}
}
