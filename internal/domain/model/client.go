package model

// Client es el registro de contacto de un asesor.
type Client struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	Deleted bool   `json:"_deleted,omitempty"`

	AdvisorID   string `json:"asesor"`
	AdvisorName string `json:"asesor_nombre"`
	City        string `json:"ciudad"`
	Address     string `json:"direccion"`
	Name        string `json:"nombre_cliente"`
	Carrier     string `json:"transportadora"`
	Phone       string `json:"telefono"`
}

func (c Client) Key() string { return c.ID }

// Clone no comparte memoria con el receptor (todos los campos son valores).
func (c Client) Clone() Client { return c }

// OwnedBy reporta si el cliente pertenece al asesor.
func (c Client) OwnedBy(advisorID string) bool {
	return advisorID != "" && c.AdvisorID == advisorID
}
