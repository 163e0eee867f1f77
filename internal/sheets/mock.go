package sheets

import (
	"context"

	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
)

// MockExporter is a mock implementation of ReviewExporter for testing.
type MockExporter struct {
	// ExportFn can be set by tests to control behavior
	ExportFn func(ctx context.Context, expenses []model.Expense) error

	// Call tracking
	ExportCalls [][]model.Expense
}

// NewMockExporter creates a new mock review exporter.
func NewMockExporter() *MockExporter {
	return &MockExporter{}
}

// Export implements ReviewExporter.Export.
func (m *MockExporter) Export(ctx context.Context, expenses []model.Expense) error {
	m.ExportCalls = append(m.ExportCalls, expenses)

	if m.ExportFn != nil {
		return m.ExportFn(ctx, expenses)
	}
	return nil
}

// Reset clears all call tracking.
func (m *MockExporter) Reset() {
	m.ExportCalls = nil
}

var _ service.ReviewExporter = (*MockExporter)(nil)
