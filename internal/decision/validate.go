package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"riskcore/internal/types"
)

// intentSchema is the contract for order intents crossing the HTTP
// boundary. Unknown fields pass through untouched; only shape and ranges
// are enforced here, business limits belong to the risk engine.
const intentSchema = `{
  "type": "object",
  "required": ["symbol", "side"],
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "side": {"enum": ["BUY", "SELL"]},
    "type": {"enum": ["MARKET", "LIMIT"]},
    "notional": {"type": "number", "minimum": 0},
    "quantity": {"type": "number", "minimum": 0},
    "price": {"type": "number", "minimum": 0},
    "take_profit": {"type": "number", "minimum": 0},
    "stop_loss": {"type": "number", "minimum": 0},
    "leverage": {"type": "number", "minimum": 0},
    "expected_win_rate": {"type": "number", "minimum": 0, "maximum": 1},
    "reward_to_risk": {"type": "number", "minimum": 0},
    "client_metadata": {"type": "object"}
  }
}`

var compiledIntentSchema = jsonschema.MustCompileString("order_intent.json", intentSchema)

// ParseOrderIntent validates raw JSON against the intent contract and
// decodes it. Validation happens on the raw bytes so a malformed number or
// a wrong enum is reported before any Go zero value can mask it.
func ParseOrderIntent(raw []byte) (types.OrderIntent, error) {
	if !gjson.ValidBytes(raw) {
		return types.OrderIntent{}, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return types.OrderIntent{}, fmt.Errorf("order intent must be a JSON object")
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return types.OrderIntent{}, fmt.Errorf("decode order intent: %w", err)
	}
	if err := compiledIntentSchema.Validate(decoded); err != nil {
		return types.OrderIntent{}, fmt.Errorf("order intent rejected: %s", schemaError(err))
	}

	// An executable intent needs some notion of size.
	if doc.Get("notional").Float() <= 0 && doc.Get("quantity").Float() <= 0 {
		return types.OrderIntent{}, fmt.Errorf("order intent rejected: one of notional or quantity must be > 0")
	}
	if doc.Get("type").String() == string(types.OrderTypeLimit) && doc.Get("price").Float() <= 0 {
		return types.OrderIntent{}, fmt.Errorf("order intent rejected: limit orders need a price")
	}

	var intent types.OrderIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return types.OrderIntent{}, fmt.Errorf("decode order intent: %w", err)
	}
	intent.Symbol = strings.ToUpper(strings.TrimSpace(intent.Symbol))
	if intent.Type == "" {
		intent.Type = types.OrderTypeMarket
	}
	return intent, nil
}

// schemaError flattens the validator's cause tree into one line.
func schemaError(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		return leaf.Message
	}
	return fmt.Sprintf("%s: %s", loc, leaf.Message)
}
