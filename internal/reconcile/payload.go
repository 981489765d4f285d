package reconcile

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
)

// Product es un renglón tal como lo espera POST /sap/order.
type Product struct {
	Reference string  `json:"referencia"`
	Quantity  int     `json:"cantidad"`
	Title     string  `json:"titulo"`
	Total     float64 `json:"total"`
	Discount  float64 `json:"descuento"`
}

// OrderPayload es el cuerpo de POST /sap/order.
type OrderPayload struct {
	ID          string    `json:"id"`
	CreatedOn   string    `json:"fecha_creacion"`
	ClientTaxID string    `json:"nit_cliente"`
	Carrier     string    `json:"trasportadora"`
	Comments    string    `json:"comentarios"`
	Products    []Product `json:"productos"`
	Advisor     string    `json:"asesor"`
	AdvisorID   string    `json:"asesor_id"`
	UserEmail   string    `json:"user_email"`
	Total       float64   `json:"total"`
}

// Identity es lo que el reconciliador necesita de la sesión.
type Identity interface {
	AdvisorID() string
	UserID() string
	UserEmail() string
}

// BuildPayload arma el cuerpo para o. La fecha sale del id (timestamp en
// ms) en loc; los comentarios llevan el asesor y la versión de la app.
func BuildPayload(o model.Order, id Identity, appVersion string, loc *time.Location) (OrderPayload, error) {
	created, err := o.CreatedAt()
	if err != nil {
		return OrderPayload{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	products := make([]Product, 0, len(o.Items))
	for _, it := range o.Items {
		products = append(products, Product{
			Reference: it.Reference,
			Quantity:  it.Quantity,
			Title:     it.Title,
			Total:     it.Total,
		})
	}
	return OrderPayload{
		ID:          o.ID,
		CreatedOn:   created.In(loc).Format("2006-01-02"),
		ClientTaxID: o.ClientTaxID,
		Carrier:     o.Carrier,
		Comments:    o.Comments + " ##" + id.AdvisorID() + "## ++" + appVersion + "++",
		Products:    products,
		Advisor:     id.UserID(),
		AdvisorID:   id.AdvisorID(),
		UserEmail:   id.UserEmail(),
		Total:       o.Total,
	}, nil
}

// Response es la respuesta del ERP ya interpretada.
type Response struct {
	// Code es el "code" del cuerpo o, si falta, el status HTTP. Sin "data"
	// se fuerza a 400.
	Code     int
	DocEntry string
	// Error es el texto que se guarda en la orden cuando no fue aceptada.
	Error string
}

func (r Response) Accepted() bool { return r.Code == 201 && r.DocEntry != "" }

type erpEnvelope struct {
	Code json.RawMessage `json:"code"`
	Data json.RawMessage `json:"data"`
}

type erpData struct {
	DocumentParams *struct {
		DocEntry json.RawMessage `json:"DocEntry"`
	} `json:"DocumentParams"`
}

// ParseResponse interpreta status + cuerpo del POST /sap/order.
func ParseResponse(status int, body []byte) Response {
	body = bytes.TrimSpace(body)
	whole := body
	if !json.Valid(body) {
		whole, _ = json.Marshal(string(body))
	}

	var env erpEnvelope
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Response{Code: 400, Error: string(whole)}
	}
	_ = json.Unmarshal(body, &env)

	res := Response{Code: status}
	if c, ok := scalarInt(env.Code); ok {
		res.Code = c
	}
	if _, hasData := fields["data"]; !hasData {
		res.Code = 400
		res.Error = string(whole)
		return res
	}

	var data erpData
	if json.Unmarshal(env.Data, &data) == nil && data.DocumentParams != nil {
		res.DocEntry = scalarString(data.DocumentParams.DocEntry)
	}
	if res.Accepted() {
		return res
	}
	if falsy(env.Data) {
		res.Error = string(whole)
	} else {
		res.Error = compact(env.Data)
	}
	return res
}

func scalarInt(raw json.RawMessage) (int, bool) {
	s := scalarString(raw)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}

// scalarString devuelve strings y números como texto; otra cosa es "".
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func falsy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`:
		return true
	}
	return false
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// SubCode extrae el código estructurado de un error guardado:
// soap_res.Code.Subcode.Value y, si no está, un "code" de primer nivel.
func SubCode(errText string) (string, bool) {
	var e struct {
		SoapRes *struct {
			Code *struct {
				Subcode *struct {
					Value json.RawMessage `json:"Value"`
				} `json:"Subcode"`
			} `json:"Code"`
		} `json:"soap_res"`
		Code json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal([]byte(errText), &e); err != nil {
		return "", false
	}
	if e.SoapRes != nil && e.SoapRes.Code != nil && e.SoapRes.Code.Subcode != nil {
		if v := scalarString(e.SoapRes.Code.Subcode.Value); v != "" {
			return v, true
		}
	}
	if v := scalarString(e.Code); v != "" {
		return v, true
	}
	return "", false
}

// SameError decide si un rechazo nuevo repite el guardado. Compara
// sub-códigos cuando ambos los tienen; si ninguno parsea, compara el texto.
func SameError(stored, next string) bool {
	if stored == "" || next == "" {
		return false
	}
	a, okA := SubCode(stored)
	b, okB := SubCode(next)
	switch {
	case okA && okB:
		return a == b
	case !okA && !okB:
		return stored == next
	}
	return false
}
