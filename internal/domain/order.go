package domain

// Order is the structured record extracted from a generated reply once the
// customer confirms. All fields are opaque strings at this layer; the JSON
// keys match the block format the model is instructed to emit. Keys missing
// from the block decode to empty strings rather than failing the order.
type Order struct {
	Items   string `json:"pedido"`
	Address string `json:"endereco"`
	Payment string `json:"pagamento"`
	Total   string `json:"total"`
}
