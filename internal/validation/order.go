package validation

// CustomerInfoInput is the contact block of an order submission.
type CustomerInfoInput struct {
	Name    string `json:"name" validate:"required,min=2,max=100,person_name"`
	Phone   string `json:"phone" validate:"required,iraqi_phone"`
	Address string `json:"address" validate:"required,min=10,max=500"`
	Email   string `json:"email,omitempty" validate:"omitempty,max=254,email_shape"`
	Notes   string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type OrderItemInput struct {
	ID       string  `json:"id" validate:"required,uuid_v4"`
	Name     string  `json:"name" validate:"required,max=200"`
	Price    float64 `json:"price" validate:"gt=0"`
	Quantity int     `json:"quantity" validate:"gt=0,lte=100"`
	Image    string  `json:"image,omitempty" validate:"omitempty,url"`
}

// OrderInput is the body of POST /api/orders. CouponOptional lets a client
// ask for the order to go through without the discount when the coupon is
// rejected.
type OrderInput struct {
	CustomerInfo   CustomerInfoInput `json:"customerInfo"`
	Items          []OrderItemInput  `json:"items" validate:"required,min=1,max=50,dive"`
	CouponCode     string            `json:"couponCode,omitempty" validate:"omitempty,max=64"`
	CouponOptional bool              `json:"couponOptional,omitempty"`
}
