package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btpcsuite/btpcd/chainhash"
)

func TestMessageRoundTrip(t *testing.T) {
	inv := NewMsgInv()
	h1 := chainhash.HashH([]byte("block one"))
	h2 := chainhash.HashH([]byte("tx one"))
	inv.AddInvVect(NewInvVect(InvTypeBlock, &h1))
	inv.AddInvVect(NewInvVect(InvTypeTx, &h2))

	var buf bytes.Buffer
	err := WriteMessage(&buf, inv, RegTest)
	if err != nil {
		t.Fatal(err)
	}

	msg, _, err := ReadMessage(&buf, RegTest)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := msg.(*MsgInv)
	if !ok {
		t.Fatalf("wrong message type %T", msg)
	}
	if len(got.InvList) != 2 {
		t.Fatalf("got %d inv items, want 2", len(got.InvList))
	}
	if got.InvList[0].Type != InvTypeBlock || got.InvList[0].Hash != h1 {
		t.Fatal("first inv item mangled")
	}
	if got.InvList[1].Type != InvTypeTx || got.InvList[1].Hash != h2 {
		t.Fatal("second inv item mangled")
	}
}

func TestMessageHeaderChecksumTruncated(t *testing.T) {
	payload := []byte{1, 2, 3}
	hdr, err := NewMessageHeader(MainNet, CmdPing, payload)
	if err != nil {
		t.Fatal(err)
	}

	full := chainhash.HashH(payload)
	if !bytes.Equal(hdr.Checksum[:], full[:ChecksumSize]) {
		t.Fatal("checksum is not the leading sha512 bytes")
	}

	var buf bytes.Buffer
	if err := hdr.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	// magic + command + length + truncated checksum
	want := 4 + CommandSize + 4 + ChecksumSize
	if buf.Len() != want {
		t.Fatalf("header is %d bytes, want %d", buf.Len(), want)
	}
}

func TestReadMessageChecksumMismatch(t *testing.T) {
	ping := &MsgPing{Nonce: 12345}
	var buf bytes.Buffer
	err := WriteMessage(&buf, ping, MainNet)
	if err != nil {
		t.Fatal(err)
	}

	// corrupt the last payload byte
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff

	_, _, err = ReadMessage(bytes.NewReader(raw), MainNet)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestReadMessageWrongMagic(t *testing.T) {
	ping := &MsgPing{Nonce: 1}
	var buf bytes.Buffer
	err := WriteMessage(&buf, ping, MainNet)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = ReadMessage(&buf, TestNet)
	if !errors.Is(err, ErrWrongNetwork) {
		t.Fatalf("expected wrong network error, got %v", err)
	}
}

func TestReadMessageUnknownCommand(t *testing.T) {
	payload := []byte{}
	hdr, err := NewMessageHeader(MainNet, "bogus", payload)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	err = hdr.Serialize(&buf)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = ReadMessage(&buf, MainNet)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestVersionRoundTrip(t *testing.T) {
	ver := &MsgVersion{
		ProtocolVersion: ProtocolVersion,
		Services:        SFNodeNetwork,
		Timestamp:       1700000000,
		Nonce:           42,
		UserAgent:       "/btpcd:0.1.0/",
		StartHeight:     1234,
		Relay:           true,
	}

	var buf bytes.Buffer
	err := WriteMessage(&buf, ver, TestNet)
	if err != nil {
		t.Fatal(err)
	}
	msg, _, err := ReadMessage(&buf, TestNet)
	if err != nil {
		t.Fatal(err)
	}
	got := msg.(*MsgVersion)
	if got.UserAgent != ver.UserAgent || got.Nonce != ver.Nonce ||
		got.StartHeight != ver.StartHeight || !got.Relay {
		t.Fatalf("version mangled: %+v", got)
	}
}

func TestGetBlocksRoundTrip(t *testing.T) {
	gb := NewMsgGetBlocks(&chainhash.ZeroHash)
	for i := 0; i < 5; i++ {
		h := chainhash.HashH([]byte{byte(i)})
		if err := gb.AddBlockLocatorHash(&h); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	err := WriteMessage(&buf, gb, RegTest)
	if err != nil {
		t.Fatal(err)
	}
	msg, _, err := ReadMessage(&buf, RegTest)
	if err != nil {
		t.Fatal(err)
	}
	got := msg.(*MsgGetBlocks)
	if len(got.BlockLocatorHashes) != 5 {
		t.Fatalf("got %d locator hashes, want 5", len(got.BlockLocatorHashes))
	}
	if !got.HashStop.IsZero() {
		t.Fatal("hash stop should be the zero sentinel")
	}
}
