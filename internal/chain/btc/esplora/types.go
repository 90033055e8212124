package esplora

// Transaction is the subset of GET /tx/:txid used by the engine.
type Transaction struct {
	TxID   string   `json:"txid"`
	Status TxStatus `json:"status"`
	Vout   []Vout   `json:"vout"`
	Fee    int64    `json:"fee"`
}

type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

// Vout is one transaction output. Address is empty for scripts without a
// standard address (OP_RETURN, bare multisig).
type Vout struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyType    string `json:"scriptpubkey_type,omitempty"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address,omitempty"`
	Value               int64  `json:"value"`
}

// UTXO is one entry of GET /address/:address/utxo.
type UTXO struct {
	TxID   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Value  int64    `json:"value"`
	Status TxStatus `json:"status"`
}

// FeeEstimates maps a confirmation target in blocks ("1", "6", "144") to sat/vB.
type FeeEstimates map[string]float64
