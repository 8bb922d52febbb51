package repository

import (
	"context"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"gorm.io/gorm"
)

// CustomerRepository handles customer and cloud connection data operations.
type CustomerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository creates a new CustomerRepository.
func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// CreateCustomer inserts a new customer record.
func (r *CustomerRepository) CreateCustomer(ctx context.Context, customer *domain.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

// GetCustomer retrieves a customer by ID.
func (r *CustomerRepository) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	if err := r.db.WithContext(ctx).First(&customer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// ListCustomers returns all customers ordered by name.
func (r *CustomerRepository) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	var customers []domain.Customer
	err := r.db.WithContext(ctx).Order("name asc").Find(&customers).Error
	return customers, err
}

// UpdateLastAssessed stamps the customer's last completed assessment time.
func (r *CustomerRepository) UpdateLastAssessed(ctx context.Context, customerID string, t time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Customer{}).
		Where("id = ?", customerID).
		Update("last_assessed_at", t).Error
}

// ListDueForAssessment returns customers whose scheduled assessment interval
// has elapsed (or who have never been assessed).
func (r *CustomerRepository) ListDueForAssessment(ctx context.Context, now time.Time) ([]domain.Customer, error) {
	var customers []domain.Customer
	err := r.db.WithContext(ctx).
		Where("assessment_interval_days > 0").
		Find(&customers).Error
	if err != nil {
		return nil, err
	}
	due := customers[:0]
	for _, c := range customers {
		if c.LastAssessedAt == nil {
			due = append(due, c)
			continue
		}
		interval := time.Duration(c.AssessmentIntervalDays) * 24 * time.Hour
		if now.Sub(*c.LastAssessedAt) >= interval {
			due = append(due, c)
		}
	}
	return due, nil
}

// CreateConnection inserts a new cloud connection record.
func (r *CustomerRepository) CreateConnection(ctx context.Context, conn *domain.CloudConnection) error {
	return r.db.WithContext(ctx).Create(conn).Error
}

// GetConnection retrieves a cloud connection by ID.
func (r *CustomerRepository) GetConnection(ctx context.Context, id string) (*domain.CloudConnection, error) {
	var conn domain.CloudConnection
	if err := r.db.WithContext(ctx).First(&conn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// ListConnections returns a customer's cloud connections.
func (r *CustomerRepository) ListConnections(ctx context.Context, customerID string) ([]domain.CloudConnection, error) {
	var conns []domain.CloudConnection
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at asc").
		Find(&conns).Error
	return conns, err
}

// DefaultConnection returns a customer's first enabled connection.
func (r *CustomerRepository) DefaultConnection(ctx context.Context, customerID string) (*domain.CloudConnection, error) {
	var conn domain.CloudConnection
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND is_enabled = ?", customerID, true).
		Order("created_at asc").
		First(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}
