package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	billingitemdomain "github.com/smallbiznis/casebill/internal/billingitem/domain"
	"github.com/smallbiznis/casebill/internal/clock"
	"github.com/smallbiznis/casebill/internal/config"
	invoicedomain "github.com/smallbiznis/casebill/internal/invoice/domain"
	"github.com/smallbiznis/casebill/internal/locking"
	"github.com/smallbiznis/casebill/internal/observability/metrics"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	retainerdomain "github.com/smallbiznis/casebill/internal/retainer/domain"
	"github.com/smallbiznis/casebill/pkg/db/option"
	"github.com/smallbiznis/casebill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Items      billingitemdomain.Repository
	Retainer   retainerdomain.Repository
	AuditSvc   auditdomain.Service
	Locker     *locking.Locker             `optional:"true"`
	Metrics    *metrics.Metrics            `optional:"true"`
	BillingCfg *config.BillingConfigHolder `optional:"true"`
	Clock      clock.Clock                 `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	invoicerepo repository.Repository[invoicedomain.Invoice]
	linerepo    repository.Repository[invoicedomain.InvoiceLineItem]
	items       billingitemdomain.Repository
	retainer    retainerdomain.Repository
	auditSvc    auditdomain.Service
	locker      *locking.Locker
	metrics     *metrics.Metrics
	billingCfg  *config.BillingConfigHolder
	clock       clock.Clock
}

func NewService(p ServiceParam) invoicedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,

		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		linerepo:    repository.ProvideStore[invoicedomain.InvoiceLineItem](p.DB),
		items:       p.Items,
		retainer:    p.Retainer,
		auditSvc:    p.AuditSvc,
		locker:      p.Locker,
		metrics:     p.Metrics,
		billingCfg:  p.BillingCfg,
		clock:       clk,
	}
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	filter := &invoicedomain.Invoice{OrgID: orgID}
	if req.CaseID != nil {
		filter.CaseID = *req.CaseID
	}

	items, err := s.invoicerepo.Find(ctx, filter,
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	return invoicedomain.ListInvoiceResponse{Invoices: invoices}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoiceID
	}

	item, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID, OrgID: orgID})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if item == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	lines, err := s.linerepo.Find(ctx, &invoicedomain.InvoiceLineItem{OrgID: orgID, InvoiceID: invoiceID},
		option.WithSortBy(option.QuerySortBy{Field: "position", Allow: map[string]bool{"position": true}}),
	)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	activities, err := s.lineActivities(ctx, orgID, lines)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	item.LineItems = make([]invoicedomain.InvoiceLineItem, 0, len(lines))
	for _, line := range lines {
		line.ActivityIDs = activities[line.ID]
		item.LineItems = append(item.LineItems, *line)
	}
	return *item, nil
}

func (s *Service) lineActivities(ctx context.Context, orgID snowflake.ID, lines []*invoicedomain.InvoiceLineItem) (map[snowflake.ID][]snowflake.ID, error) {
	out := map[snowflake.ID][]snowflake.ID{}
	if len(lines) == 0 {
		return out, nil
	}
	ids := make([]snowflake.ID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ID)
	}
	var links []invoicedomain.InvoiceLineActivity
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND invoice_line_item_id IN ?", orgID, ids).
		Order("activity_id asc").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		out[link.InvoiceLineItemID] = append(out[link.InvoiceLineItemID], link.ActivityID)
	}
	return out, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"case_id":          invoice.CaseID.String(),
		"invoice_number":   invoice.InvoiceNumber,
		"subtotal_amount":  invoice.SubtotalAmount.String(),
		"retainer_applied": invoice.RetainerApplied.String(),
		"balance_due":      invoice.BalanceDue.String(),
		"line_items":       len(invoice.LineItems),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := invoice.ID.String()
	orgID := invoice.OrgID
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("failed to audit invoice", zap.String("invoice_id", targetID), zap.Error(err))
	}
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, invoicedomain.ErrInvalidOrganization
	}
	return orgID, nil
}
