package std

import (
	"strings"
	"testing"
	"time"
)

func TestSelectBlockCrypt(t *testing.T) {
	key := DeriveKey("it's a secrect")
	if len(key) != 32 {
		t.Fatalf("derived key has %d bytes", len(key))
	}
	for _, c := range ciphers {
		block, name := SelectBlockCrypt(c.name, key)
		if name != c.name {
			t.Fatalf("%s: effective cipher %s", c.name, name)
		}
		if block == nil && c.name != "null" {
			t.Fatalf("%s: nil block", c.name)
		}
	}
	if _, name := SelectBlockCrypt("rot13", key); name != defaultCipher {
		t.Fatalf("unknown cipher resolved to %s", name)
	}
	if !strings.HasPrefix(CipherNames(), "aes, aes-128,") {
		t.Fatalf("usage list %q", CipherNames())
	}
}

func TestLinkConfigUnknownCipherWarns(t *testing.T) {
	warnings, err := (&LinkConfig{Crypt: "rot13", SmuxVer: 2}).Validate()
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "rot13") {
		t.Fatalf("warnings %q", warnings)
	}
	if warnings, _ := (&LinkConfig{Crypt: "salsa20", SmuxVer: 2}).Validate(); len(warnings) != 0 {
		t.Fatalf("warnings %q", warnings)
	}
}

func TestLinkSmuxConfig(t *testing.T) {
	cfg, err := (&LinkConfig{SmuxVer: 2, SmuxBuf: 1 << 20, StreamBuf: 1 << 18, FrameSize: 4096, KeepAlive: 3}).smuxConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Version != 2 || cfg.MaxReceiveBuffer != 1<<20 || cfg.MaxStreamBuffer != 1<<18 ||
		cfg.MaxFrameSize != 4096 || cfg.KeepAliveInterval != 3*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}

	// zero values keep the smux defaults
	if _, err := (&LinkConfig{}).smuxConfig(); err != nil {
		t.Fatal(err)
	}
	if _, err := (&LinkConfig{SmuxVer: 3}).smuxConfig(); err == nil {
		t.Fatal("smux version 3 accepted")
	}
}
