package crypto

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	raw := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	encoded := FromCommon(AccountPrefix, raw).String()
	if !strings.HasPrefix(encoded, "aq1") {
		t.Fatalf("unexpected prefix: %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Common() != raw {
		t.Fatalf("round trip mismatch: %s != %s", decoded.Common().Hex(), raw.Hex())
	}
	if decoded.Prefix() != AccountPrefix {
		t.Fatalf("prefix mismatch: %s", decoded.Prefix())
	}
}

func TestParseIdentityAcceptsHexAndBech32(t *testing.T) {
	raw := common.HexToAddress("0x1111111111111111111111111111111111111111")
	fromHex, err := ParseIdentity(raw.Hex())
	if err != nil || fromHex != raw {
		t.Fatalf("hex parse: %v %s", err, fromHex.Hex())
	}
	fromBech, err := ParseIdentity(FromCommon(AssetPrefix, raw).String())
	if err != nil || fromBech != raw {
		t.Fatalf("bech32 parse: %v %s", err, fromBech.Hex())
	}
	if _, err := ParseIdentity("0x1234"); err == nil {
		t.Fatalf("expected short hex to fail")
	}
	if _, err := ParseIdentity(""); err == nil {
		t.Fatalf("expected empty identity to fail")
	}
}

func TestNewAddressRejectsWrongLength(t *testing.T) {
	if _, err := NewAddress(AccountPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "solver.json")
	if err := SaveToKeystore(path, key, "correct horse"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Identity() != key.Identity() {
		t.Fatalf("identity mismatch")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
