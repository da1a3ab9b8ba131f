package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

var _ order.Repository = (*OrderRepository)(nil)

type orderDoc struct {
	ID              string      `bson:"_id"`
	UserID          string      `bson:"user_id"`
	Customer        customerDoc `bson:"customer"`
	Rental          rentalDoc   `bson:"rental"`
	DeliveryAddress *addressDoc `bson:"delivery_address,omitempty"`
	Payment         paymentDoc  `bson:"payment"`
	Items           []itemDoc   `bson:"items"`
	Pricing         pricingDoc  `bson:"pricing"`
	Status          string      `bson:"status"`
	PaymentStatus   string      `bson:"payment_status"`
	TermsAcceptedAt time.Time   `bson:"terms_accepted_at"`
	CreatedAt       time.Time   `bson:"created_at"`
	UpdatedAt       time.Time   `bson:"updated_at"`
}

type customerDoc struct {
	FirstName string `bson:"first_name"`
	LastName  string `bson:"last_name"`
	Email     string `bson:"email"`
	Phone     string `bson:"phone"`
}

type rentalDoc struct {
	StartDate         time.Time `bson:"start_date"`
	EndDate           time.Time `bson:"end_date"`
	RentalDays        int64     `bson:"rental_days"`
	DeliveryMethod    string    `bson:"delivery_method"`
	InsuranceSelected bool      `bson:"insurance_selected"`
	Notes             string    `bson:"notes,omitempty"`
}

type addressDoc struct {
	Street     string `bson:"street"`
	City       string `bson:"city"`
	Province   string `bson:"province"`
	PostalCode string `bson:"postal_code"`
}

type paymentDoc struct {
	Method          string                `bson:"method"`
	ProviderOrderID string                `bson:"provider_order_id,omitempty"`
	CaptureID       string                `bson:"capture_id,omitempty"`
	PayerID         string                `bson:"payer_id,omitempty"`
	PayerEmail      string                `bson:"payer_email,omitempty"`
	CapturedAmount  *primitive.Decimal128 `bson:"captured_amount,omitempty"`
	Currency        string                `bson:"currency,omitempty"`
	CapturedAt      *time.Time            `bson:"captured_at,omitempty"`
}

type itemDoc struct {
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Category  string               `bson:"category,omitempty"`
	Variant   string               `bson:"variant,omitempty"`
	DailyRate primitive.Decimal128 `bson:"daily_rate"`
	Quantity  int                  `bson:"quantity"`
	LineTotal primitive.Decimal128 `bson:"line_total"`
}

type pricingDoc struct {
	Subtotal     primitive.Decimal128 `bson:"subtotal"`
	DeliveryFee  primitive.Decimal128 `bson:"delivery_fee"`
	InsuranceFee primitive.Decimal128 `bson:"insurance_fee"`
	Tax          primitive.Decimal128 `bson:"tax"`
	Total        primitive.Decimal128 `bson:"total"`
}

// OrderRepository implements order.Repository on a MongoDB collection. The
// order id is the document _id, so a second insert of the same id fails.
type OrderRepository struct {
	collection *mongo.Collection
}

// NewOrderRepository returns an OrderRepository on db.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{collection: db.Collection(ordersCollection)}
}

// Create inserts a new order document.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	doc, err := toDoc(o)
	if err != nil {
		return fmt.Errorf("encoding order %q: %w", o.ID, err)
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if isPrimaryKeyDuplicate(err) {
			return fmt.Errorf("creating order %q: %w", o.ID, order.ErrDuplicateID)
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get loads an order by id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var doc orderDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order %q: %w", id, err)
	}
	o, err := fromDoc(doc)
	if err != nil {
		return nil, fmt.Errorf("decoding order %q: %w", id, err)
	}
	return o, nil
}

// isPrimaryKeyDuplicate reports a duplicate _id, as opposed to a duplicate
// capture id.
func isPrimaryKeyDuplicate(err error) bool {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == 11000 && (e.Raw == nil || keyPatternHasID(e.Raw)) {
			return true
		}
	}
	return false
}

func keyPatternHasID(raw bson.Raw) bool {
	kp, err := raw.LookupErr("keyPattern")
	if err != nil {
		// Older servers omit keyPattern.
		return true
	}
	doc, ok := kp.DocumentOK()
	if !ok {
		return true
	}
	_, err = doc.LookupErr("_id")
	return err == nil
}

func dec(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.StringFixed(2))
}

func undec(d primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}

func toDoc(o *order.Order) (*orderDoc, error) {
	doc := &orderDoc{
		ID:     o.ID,
		UserID: o.UserID,
		Customer: customerDoc{
			FirstName: o.Customer.FirstName,
			LastName:  o.Customer.LastName,
			Email:     o.Customer.Email,
			Phone:     o.Customer.Phone,
		},
		Rental: rentalDoc{
			StartDate:         o.Rental.StartDate,
			EndDate:           o.Rental.EndDate,
			RentalDays:        o.Rental.RentalDays,
			DeliveryMethod:    string(o.Rental.DeliveryMethod),
			InsuranceSelected: o.Rental.InsuranceSelected,
			Notes:             o.Rental.Notes,
		},
		Payment: paymentDoc{
			Method:          string(o.Payment.Method),
			ProviderOrderID: o.Payment.ProviderOrderID,
			CaptureID:       o.Payment.CaptureID,
			PayerID:         o.Payment.PayerID,
			PayerEmail:      o.Payment.PayerEmail,
			Currency:        o.Payment.Currency,
			CapturedAt:      o.Payment.CapturedAt,
		},
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		TermsAcceptedAt: o.TermsAcceptedAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if a := o.DeliveryAddress; a != nil {
		doc.DeliveryAddress = &addressDoc{Street: a.Street, City: a.City, Province: a.Province, PostalCode: a.PostalCode}
	}
	if o.Payment.CapturedAmount != nil {
		amount, err := dec(*o.Payment.CapturedAmount)
		if err != nil {
			return nil, err
		}
		doc.Payment.CapturedAmount = &amount
	}

	var err error
	p := &doc.Pricing
	for _, f := range []struct {
		dst *primitive.Decimal128
		src decimal.Decimal
	}{
		{&p.Subtotal, o.Pricing.Subtotal},
		{&p.DeliveryFee, o.Pricing.DeliveryFee},
		{&p.InsuranceFee, o.Pricing.InsuranceFee},
		{&p.Tax, o.Pricing.Tax},
		{&p.Total, o.Pricing.Total},
	} {
		if *f.dst, err = dec(f.src); err != nil {
			return nil, err
		}
	}

	doc.Items = make([]itemDoc, len(o.Items))
	for i, item := range o.Items {
		rate, err := dec(item.DailyRate)
		if err != nil {
			return nil, err
		}
		total, err := dec(item.LineTotal)
		if err != nil {
			return nil, err
		}
		doc.Items[i] = itemDoc{
			ProductID: item.ProductID,
			Name:      item.Name,
			Category:  item.Category,
			Variant:   item.Variant,
			DailyRate: rate,
			Quantity:  item.Quantity,
			LineTotal: total,
		}
	}
	return doc, nil
}

func fromDoc(doc orderDoc) (*order.Order, error) {
	o := &order.Order{
		ID:     doc.ID,
		UserID: doc.UserID,
		Customer: order.Customer{
			FirstName: doc.Customer.FirstName,
			LastName:  doc.Customer.LastName,
			Email:     doc.Customer.Email,
			Phone:     doc.Customer.Phone,
		},
		Rental: order.Rental{
			StartDate:         doc.Rental.StartDate.UTC(),
			EndDate:           doc.Rental.EndDate.UTC(),
			RentalDays:        doc.Rental.RentalDays,
			DeliveryMethod:    pricing.DeliveryMethod(doc.Rental.DeliveryMethod),
			InsuranceSelected: doc.Rental.InsuranceSelected,
			Notes:             doc.Rental.Notes,
		},
		Payment: order.Payment{
			Method:          order.PaymentMethod(doc.Payment.Method),
			ProviderOrderID: doc.Payment.ProviderOrderID,
			CaptureID:       doc.Payment.CaptureID,
			PayerID:         doc.Payment.PayerID,
			PayerEmail:      doc.Payment.PayerEmail,
			Currency:        doc.Payment.Currency,
		},
		Status:          order.Status(doc.Status),
		PaymentStatus:   order.PaymentStatus(doc.PaymentStatus),
		TermsAcceptedAt: doc.TermsAcceptedAt.UTC(),
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}
	if a := doc.DeliveryAddress; a != nil {
		o.DeliveryAddress = &order.Address{Street: a.Street, City: a.City, Province: a.Province, PostalCode: a.PostalCode}
	}
	if doc.Payment.CapturedAt != nil {
		t := doc.Payment.CapturedAt.UTC()
		o.Payment.CapturedAt = &t
	}
	if doc.Payment.CapturedAmount != nil {
		amount, err := undec(*doc.Payment.CapturedAmount)
		if err != nil {
			return nil, err
		}
		o.Payment.CapturedAmount = &amount
	}

	var err error
	p := &o.Pricing
	p.RentalDays = doc.Rental.RentalDays
	for _, f := range []struct {
		dst *decimal.Decimal
		src primitive.Decimal128
	}{
		{&p.Subtotal, doc.Pricing.Subtotal},
		{&p.DeliveryFee, doc.Pricing.DeliveryFee},
		{&p.InsuranceFee, doc.Pricing.InsuranceFee},
		{&p.Tax, doc.Pricing.Tax},
		{&p.Total, doc.Pricing.Total},
	} {
		if *f.dst, err = undec(f.src); err != nil {
			return nil, err
		}
	}

	o.Items = make([]order.ItemSnapshot, len(doc.Items))
	for i, item := range doc.Items {
		rate, err := undec(item.DailyRate)
		if err != nil {
			return nil, err
		}
		total, err := undec(item.LineTotal)
		if err != nil {
			return nil, err
		}
		o.Items[i] = order.ItemSnapshot{
			ProductID: item.ProductID,
			Name:      item.Name,
			Category:  item.Category,
			Variant:   item.Variant,
			DailyRate: rate,
			Quantity:  item.Quantity,
			LineTotal: total,
		}
	}
	return o, nil
}
