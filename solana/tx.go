package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/btcsuite/btcutil/base58"
)

// Hash is a 32-byte blockhash.
type Hash [32]byte

// ParseHash decodes a base58 blockhash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw := base58.Decode(s)
	if len(raw) != len(h) {
		return h, fmt.Errorf("solana: blockhash %q decodes to %d bytes, want %d", s, len(raw), len(h))
	}
	copy(h[:], raw)
	return h, nil
}

// String renders the hash in base58.
func (h Hash) String() string { return base58.Encode(h[:]) }

// AccountMeta describes how an instruction touches an account.
type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation before compilation.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

const transferCheckedDiscriminator = 12

// NewTransferChecked builds the SPL token TransferChecked instruction: the
// token program re-verifies mint and decimals against the amount, so a
// mis-pointed transfer fails on-ledger instead of moving the wrong asset.
func NewTransferChecked(sourceATA, mint, destATA, owner PublicKey, amount uint64, decimals uint8) Instruction {
	data := make([]byte, 10)
	data[0] = transferCheckedDiscriminator
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return Instruction{
		ProgramID: TokenProgram,
		Accounts: []AccountMeta{
			{PublicKey: sourceATA, IsWritable: true},
			{PublicKey: mint},
			{PublicKey: destATA, IsWritable: true},
			{PublicKey: owner, IsSigner: true},
		},
		Data: data,
	}
}

// CompiledInstruction references message accounts by index.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// MessageHeader carries the signer and read-only counts the runtime uses to
// partition the account list.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// Message is a legacy-format transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// NewMessage compiles instructions into a message with the fee payer in the
// first account slot. Accounts are deduplicated with merged signer/writable
// flags and ordered writable signers, read-only signers, writable
// non-signers, read-only non-signers; within each class first use wins.
func NewMessage(feePayer PublicKey, recentBlockhash Hash, instructions ...Instruction) (*Message, error) {
	if feePayer.IsZero() {
		return nil, fmt.Errorf("solana: message requires a fee payer")
	}
	if len(instructions) == 0 {
		return nil, fmt.Errorf("solana: message requires at least one instruction")
	}

	type slot struct {
		key      PublicKey
		signer   bool
		writable bool
		order    int
	}
	slots := make(map[PublicKey]*slot)
	sequence := 0
	upsert := func(key PublicKey, signer, writable bool) {
		if existing, ok := slots[key]; ok {
			existing.signer = existing.signer || signer
			existing.writable = existing.writable || writable
			return
		}
		slots[key] = &slot{key: key, signer: signer, writable: writable, order: sequence}
		sequence++
	}

	upsert(feePayer, true, true)
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			upsert(meta.PublicKey, meta.IsSigner, meta.IsWritable)
		}
	}
	for _, ix := range instructions {
		upsert(ix.ProgramID, false, false)
	}

	classOf := func(s *slot) int {
		switch {
		case s.signer && s.writable:
			return 0
		case s.signer:
			return 1
		case s.writable:
			return 2
		default:
			return 3
		}
	}
	ordered := make([]*slot, 0, len(slots))
	for _, s := range slots {
		ordered = append(ordered, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if classOf(ordered[i]) != classOf(ordered[j]) {
			return classOf(ordered[i]) < classOf(ordered[j])
		}
		return ordered[i].order < ordered[j].order
	})
	if len(ordered) > 256 {
		return nil, fmt.Errorf("solana: message has %d accounts, exceeding the 256 index space", len(ordered))
	}

	msg := &Message{RecentBlockhash: recentBlockhash}
	index := make(map[PublicKey]uint8, len(ordered))
	for i, s := range ordered {
		msg.AccountKeys = append(msg.AccountKeys, s.key)
		index[s.key] = uint8(i)
		if s.signer {
			msg.Header.NumRequiredSignatures++
			if !s.writable {
				msg.Header.NumReadonlySignedAccounts++
			}
		} else if !s.writable {
			msg.Header.NumReadonlyUnsignedAccounts++
		}
	}

	for _, ix := range instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Data:           ix.Data,
		}
		for _, meta := range ix.Accounts {
			compiled.AccountIndexes = append(compiled.AccountIndexes, index[meta.PublicKey])
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}
	return msg, nil
}

// appendCompactU16 appends the Solana shortvec length encoding.
func appendCompactU16(buf []byte, n int) []byte {
	for {
		if n < 0x80 {
			return append(buf, byte(n))
		}
		buf = append(buf, byte(n&0x7f)|0x80)
		n >>= 7
	}
}

// Serialize renders the message in the legacy wire layout; these are the
// bytes signatures cover.
func (m *Message) Serialize() []byte {
	buf := []byte{
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	}
	buf = appendCompactU16(buf, len(m.AccountKeys))
	for _, key := range m.AccountKeys {
		buf = append(buf, key[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = appendCompactU16(buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf = append(buf, ix.ProgramIDIndex)
		buf = appendCompactU16(buf, len(ix.AccountIndexes))
		buf = append(buf, ix.AccountIndexes...)
		buf = appendCompactU16(buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// SignatureSize is the length of an ed25519 transaction signature.
const SignatureSize = 64

// Transaction pairs a message with one signature slot per required signer.
// Slots stay zeroed until the matching key signs; the facilitator fills the
// fee-payer slot it substitutes.
type Transaction struct {
	Signatures [][SignatureSize]byte
	Message    *Message
}

// NewUnsignedTransaction allocates zeroed signature slots for the message.
func NewUnsignedTransaction(msg *Message) *Transaction {
	return &Transaction{
		Signatures: make([][SignatureSize]byte, msg.Header.NumRequiredSignatures),
		Message:    msg,
	}
}

// Sign fills the signature slot belonging to the key's public half. The key
// must be one of the message's required signers.
func (tx *Transaction) Sign(key ed25519.PrivateKey) error {
	pub, err := PublicKeyOf(key)
	if err != nil {
		return err
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i] != pub {
			continue
		}
		sig := ed25519.Sign(key, tx.Message.Serialize())
		copy(tx.Signatures[i][:], sig)
		return nil
	}
	return fmt.Errorf("solana: %s is not a required signer of this transaction", pub)
}

// Serialize renders signatures then message in the wire layout.
func (tx *Transaction) Serialize() []byte {
	buf := appendCompactU16(nil, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		buf = append(buf, sig[:]...)
	}
	return append(buf, tx.Message.Serialize()...)
}

// Base64 renders the serialized transaction for JSON transport.
func (tx *Transaction) Base64() string {
	return base64.StdEncoding.EncodeToString(tx.Serialize())
}
