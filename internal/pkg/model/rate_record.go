package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Fixed keys of the canonical schema. Top-level and second-level structure is
// always present; deeper product and tier keys are open-ended per bank.
const (
	KeyEffectiveDate   = "effective_date"
	KeyPenaltyInterest = "penalty_interest"
	KeyDeposits        = "deposits"
	KeyMortgages       = "mortgages"
	KeyVehicleLoans    = "vehicle_loans"
	KeyOverdrafts      = "overdrafts"
	KeyCreditCards     = "credit_cards"

	KeyCurrentAccounts = "current_accounts"
	KeySavingsAccounts = "savings_accounts"
	KeyForeignCurrency = "foreign_currency"
	KeyIndexed         = "indexed"
	KeyUnindexed       = "unindexed"
	KeyOther           = "other"

	keyBankName = "bank_name"
	keyBankID   = "bank_id"
)

// RateRecord is the canonical extraction output for one bank. Identity is
// always present; everything else lives in the rate tree. A record is built
// fresh on every run and never mutated after it is returned.
type RateRecord struct {
	BankName string
	BankID   string
	Data     *Node
}

// NewEmptyRecord returns the canonical empty template: every fixed container
// present and empty, every scalar leaf null. The template doubles as the
// degraded fallback result and as the merge seed every extractor starts from.
func NewEmptyRecord(bankName, bankID string) *RateRecord {
	data := Map()
	data.Set(KeyEffectiveDate, Null())
	data.Set(KeyPenaltyInterest, Null())

	deposits := Map()
	deposits.Set(KeyCurrentAccounts, Map())
	savings := Map()
	savings.Set(KeyIndexed, Map())
	savings.Set(KeyUnindexed, Map())
	savings.Set(KeyOther, Map())
	deposits.Set(KeySavingsAccounts, savings)
	deposits.Set(KeyForeignCurrency, Map())
	data.Set(KeyDeposits, deposits)

	mortgages := Map()
	mortgages.Set(KeyIndexed, Map())
	mortgages.Set(KeyUnindexed, Map())
	data.Set(KeyMortgages, mortgages)

	data.Set(KeyVehicleLoans, Map())
	data.Set(KeyOverdrafts, Map())
	data.Set(KeyCreditCards, Map())

	return &RateRecord{BankName: bankName, BankID: bankID, Data: data}
}

// HasData reports whether the rate tree carries at least one populated leaf.
// A record decoded from an arbitrary JSON object (an error payload, say) has
// structure but no rates, and callers must not treat it as a successful
// extraction.
func (r *RateRecord) HasData() bool {
	if r == nil {
		return false
	}
	return hasDataNode(r.Data)
}

func hasDataNode(n *Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind() {
	case KindRate, KindDate, KindLadder:
		return true
	case KindMap:
		for _, k := range n.Keys() {
			if hasDataNode(n.Get(k)) {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy of the record.
func (r *RateRecord) Clone() *RateRecord {
	if r == nil {
		return nil
	}
	return &RateRecord{BankName: r.BankName, BankID: r.BankID, Data: r.Data.Clone()}
}

// MarshalJSON emits identity fields first, then the rate tree keys in
// insertion order, as one flat object.
func (r *RateRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField := func(key string, value []byte) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(value)
		return nil
	}

	nb, err := json.Marshal(r.BankName)
	if err != nil {
		return nil, err
	}
	if err := writeField(keyBankName, nb); err != nil {
		return nil, err
	}
	ib, err := json.Marshal(r.BankID)
	if err != nil {
		return nil, err
	}
	if err := writeField(keyBankID, ib); err != nil {
		return nil, err
	}

	data := r.Data
	if data == nil {
		data = Map()
	}
	for _, k := range data.Keys() {
		vb, err := data.Get(k).MarshalJSON()
		if err != nil {
			return nil, err
		}
		if err := writeField(k, vb); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a record from the wire shape. The top-level value
// must be an object; identity strings are pulled out, everything else decodes
// into the rate tree.
func (r *RateRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("rate record: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("rate record: top-level value is not an object")
	}

	out := RateRecord{Data: Map()}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("rate record: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("rate record: object key is not a string")
		}

		switch key {
		case keyBankName, keyBankID:
			valTok, err := dec.Token()
			if err != nil {
				return fmt.Errorf("rate record: %w", err)
			}
			if s, ok := valTok.(string); ok {
				if key == keyBankName {
					out.BankName = s
				} else {
					out.BankID = s
				}
			} else if d, ok := valTok.(json.Delim); ok {
				if err := skipValue(dec, d); err != nil {
					return fmt.Errorf("rate record: %w", err)
				}
			}
		default:
			child, err := decodeNode(dec)
			if err != nil {
				return fmt.Errorf("rate record: %w", err)
			}
			out.Data.Set(key, child)
		}
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return fmt.Errorf("rate record: %w", err)
	}

	*r = out
	return nil
}

// skipValue consumes the remainder of a compound value whose opening delim
// was already read.
func skipValue(dec *json.Decoder, open json.Delim) error {
	if open != '{' && open != '[' {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
