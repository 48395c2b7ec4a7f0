package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mhismail3/pdfcombiner/internal/dispatch"
	"github.com/mhismail3/pdfcombiner/internal/domain"
	"github.com/mhismail3/pdfcombiner/internal/payload"
	"github.com/mhismail3/pdfcombiner/internal/scheduler"
	"github.com/mhismail3/pdfcombiner/internal/session"
)

// ThumbnailPipeline — бизнес-логика превью документов.
// Связывает воедино диспетчеры (изолированные воркеры), LRU-кэш миниатюр
// и планировщик видимой области. Главные задачи:
// 1. Один диспетчер на открытый документ (создается и закрывается явно).
// 2. Путь получения миниатюры: сначала кэш, потом рендер (Cache-Aside).
// 3. Контроль числа одновременных рендеров (семафор).
type ThumbnailPipeline struct {
	engine domain.RenderEngine
	cache  domain.ThumbnailCache
	logger *zap.Logger

	// Ограничитель одновременных рендеров: растеризация — самая дорогая
	// операция на вызывающем потоке.
	limiter *RenderLimiter

	mu   sync.RWMutex
	docs map[string]*openDocument

	queueSize int
	quality   int
	schedCfg  scheduler.Config
}

// openDocument — все живые ресурсы одного открытого документа.
type openDocument struct {
	payload    *domain.DocumentPayload
	dispatcher domain.Dispatcher
	viewport   *scheduler.Viewport
	pageCount  int
	metadata   domain.DocumentMetadata
	geometries []domain.PageGeometry
}

// DocumentInfo — то, что видит UI после открытия документа.
type DocumentInfo struct {
	Fingerprint string                  `json:"fingerprint"`
	Name        string                  `json:"name"`
	PageCount   int                     `json:"page_count"`
	Metadata    domain.DocumentMetadata `json:"metadata,omitempty"`
	Geometries  []domain.PageGeometry   `json:"geometries"`
}

// RenderLimiter — простой семафор, не дает запустить больше N рендеров
// одновременно.
type RenderLimiter struct {
	semaphore chan struct{}
}

// NewRenderLimiter создает ограничитель на maxConcurrent рендеров.
func NewRenderLimiter(maxConcurrent int) *RenderLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	return &RenderLimiter{semaphore: make(chan struct{}, maxConcurrent)}
}

// Acquire ждет свободный слот либо отмену контекста.
func (rl *RenderLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case rl.semaphore <- struct{}{}:
		return nil
	}
}

// Release освобождает слот.
func (rl *RenderLimiter) Release() {
	select {
	case <-rl.semaphore:
	default:
	}
}

// Options настраивает pipeline при создании.
type Options struct {
	QueueSize            int
	MaxConcurrentRenders int
	JPEGQuality          int
	Scheduler            scheduler.Config
}

// New собирает pipeline поверх движка рендеринга и кэша.
func New(engine domain.RenderEngine, cache domain.ThumbnailCache, logger *zap.Logger, opts Options) *ThumbnailPipeline {
	return &ThumbnailPipeline{
		engine:    engine,
		cache:     cache,
		logger:    logger,
		limiter:   NewRenderLimiter(opts.MaxConcurrentRenders),
		docs:      make(map[string]*openDocument),
		queueSize: opts.QueueSize,
		quality:   opts.JPEGQuality,
		schedCfg:  opts.Scheduler,
	}
}

// OpenDocument принимает байты документа, забирает их во владение (копия),
// поднимает диспетчер и прогревает геометрию всех страниц через воркер.
// Повторное открытие того же содержимого возвращает уже открытый документ.
func (p *ThumbnailPipeline) OpenDocument(ctx context.Context, name string, data []byte) (*DocumentInfo, error) {
	doc := payload.FromBytes(name, data)

	// Уже открыт? Отпечаток содержимого — ключ идемпотентности.
	p.mu.RLock()
	if existing, ok := p.docs[doc.Fingerprint]; ok {
		p.mu.RUnlock()
		return p.info(doc.Fingerprint, existing), nil
	}
	p.mu.RUnlock()

	dispatcher, err := dispatch.NewSessionDispatcher(p.engine, p.queueSize, p.logger)
	if err != nil {
		return nil, err
	}

	// Воркеру уходит собственная копия байтов: после отправки исходный
	// payload остается пригодным для рендера на вызывающем потоке.
	sub, err := dispatcher.Submit(ctx, domain.Operation{
		Kind:    domain.OpGenerateThumbnailGeometry,
		Payload: payload.Clone(doc),
		Options: domain.ThumbnailOptions{Width: p.schedCfg.ThumbnailWidth},
	}, nil)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	// Канал результата несет ровно один финальный результат.
	var terminal domain.OperationResult
	select {
	case <-ctx.Done():
		sub.Cancel()
		dispatcher.Close()
		return nil, ctx.Err()
	case terminal = <-sub.Result():
	}
	if terminal.Kind == domain.ResultFailed {
		dispatcher.Close()
		return nil, terminal.Err
	}

	// Метаданные дешевы: короткоживущая сессия на вызывающем потоке.
	meta, err := p.readMetadata(doc)
	if err != nil {
		p.logger.Warn("не удалось прочитать метаданные",
			zap.String("fingerprint", doc.Fingerprint),
			zap.Error(err),
		)
	}

	od := &openDocument{
		payload:    doc,
		dispatcher: dispatcher,
		pageCount:  terminal.TotalPages,
		metadata:   meta,
		geometries: terminal.Geometries,
	}
	od.viewport = scheduler.NewViewport(p.schedCfg, p.cache, &docFetcher{pipeline: p, fingerprint: doc.Fingerprint}, p.logger)

	p.mu.Lock()
	// Гонка двух одновременных открытий одного файла: победитель уже в
	// карте, наш диспетчер больше не нужен.
	if existing, ok := p.docs[doc.Fingerprint]; ok {
		p.mu.Unlock()
		dispatcher.Close()
		return p.info(doc.Fingerprint, existing), nil
	}
	p.docs[doc.Fingerprint] = od
	p.mu.Unlock()

	p.logger.Info("документ открыт",
		zap.String("fingerprint", doc.Fingerprint),
		zap.String("name", name),
		zap.Int("pages", od.pageCount),
	)
	return p.info(doc.Fingerprint, od), nil
}

func (p *ThumbnailPipeline) readMetadata(doc *domain.DocumentPayload) (domain.DocumentMetadata, error) {
	s, err := session.Open(p.engine, doc)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Metadata(), nil
}

func (p *ThumbnailPipeline) info(fingerprint string, od *openDocument) *DocumentInfo {
	return &DocumentInfo{
		Fingerprint: fingerprint,
		Name:        od.payload.Name,
		PageCount:   od.pageCount,
		Metadata:    od.metadata,
		Geometries:  od.geometries,
	}
}

// lookup возвращает открытый документ по отпечатку.
func (p *ThumbnailPipeline) lookup(fingerprint string) (*openDocument, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	od, ok := p.docs[fingerprint]
	if !ok {
		return nil, fmt.Errorf("document %s is not open: %w", fingerprint, domain.ErrDispatchUnavailable)
	}
	return od, nil
}

// Document возвращает информацию об открытом документе.
func (p *ThumbnailPipeline) Document(fingerprint string) (*DocumentInfo, error) {
	od, err := p.lookup(fingerprint)
	if err != nil {
		return nil, err
	}
	return p.info(fingerprint, od), nil
}

// FetchThumbnail — основной путь получения миниатюры.
// 1. Смотрим кэш (горячий путь, O(1)).
// 2. Промах: короткая сессия, геометрия, рендер на этом потоке, кладем в кэш.
// Некорректный номер страницы отдает PageOutOfRange, ошибка рендера одной
// страницы не влияет на соседние.
func (p *ThumbnailPipeline) FetchThumbnail(ctx context.Context, fingerprint string, pageNumber, width, height int) ([]byte, error) {
	od, err := p.lookup(fingerprint)
	if err != nil {
		return nil, err
	}

	key := domain.ThumbnailKey{
		Fingerprint: fingerprint,
		PageNumber:  pageNumber,
		Width:       width,
		Height:      height,
	}
	if bitmap, ok := p.cache.Get(key); ok {
		return bitmap, nil
	}

	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.limiter.Release()

	// Пока ждали семафор, страницу мог отрендерить кто-то другой.
	if bitmap, ok := p.cache.Get(key); ok {
		return bitmap, nil
	}

	s, err := session.Open(p.engine, od.payload)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	geo, err := s.PageGeometry(pageNumber, domain.ThumbnailOptions{Width: width, Height: height})
	if err != nil {
		return nil, err
	}

	bitmap, err := s.Handle().RenderPage(ctx, pageNumber, geo.Width, geo.Height, p.quality)
	if err != nil {
		p.logger.Warn("рендер страницы не удался",
			zap.String("fingerprint", fingerprint),
			zap.Int("page", pageNumber),
			zap.Error(err),
		)
		return nil, fmt.Errorf("page %d: %w", pageNumber, domain.ErrRenderFailure)
	}

	p.cache.Put(key, bitmap)
	return bitmap, nil
}

// docFetcher связывает планировщик конкретного документа с pipeline.
type docFetcher struct {
	pipeline    *ThumbnailPipeline
	fingerprint string
}

func (f *docFetcher) FetchThumbnail(ctx context.Context, pageNumber, width, height int) error {
	_, err := f.pipeline.FetchThumbnail(ctx, f.fingerprint, pageNumber, width, height)
	return err
}

// HandleViewport прогоняет один проход планировщика для документа.
func (p *ThumbnailPipeline) HandleViewport(ctx context.Context, fingerprint string, scroll domain.ScrollState) (scheduler.Plan, error) {
	od, err := p.lookup(fingerprint)
	if err != nil {
		return scheduler.Plan{}, err
	}
	if scroll.TotalPages == 0 {
		scroll.TotalPages = od.pageCount
	}
	return od.viewport.OnViewportChanged(ctx, fingerprint, scroll)
}

// SubmitOperation отправляет операцию в диспетчер открытого документа.
// Для MergeDocuments документом-владельцем считается первый вход.
func (p *ThumbnailPipeline) SubmitOperation(ctx context.Context, op domain.Operation, onProgress domain.ProgressFunc) (domain.Submission, error) {
	fingerprint := ""
	switch {
	case op.Payload != nil:
		fingerprint = op.Payload.Fingerprint
	case len(op.Payloads) > 0 && op.Payloads[0] != nil:
		fingerprint = op.Payloads[0].Fingerprint
	}
	od, err := p.lookup(fingerprint)
	if err != nil {
		return nil, err
	}
	return od.dispatcher.Submit(ctx, op, onProgress)
}

// Payload отдает копию байтов открытого документа. Копия принадлежит
// вызывающему и безопасна для передачи в воркер.
func (p *ThumbnailPipeline) Payload(fingerprint string) (*domain.DocumentPayload, error) {
	od, err := p.lookup(fingerprint)
	if err != nil {
		return nil, err
	}
	return payload.Clone(od.payload), nil
}

// CachedPages отвечает, какие страницы документа уже прогреты в кэше.
func (p *ThumbnailPipeline) CachedPages(fingerprint string) []int {
	return p.cache.CachedPageNumbers(fingerprint)
}

// CloseDocument явно закрывает документ: диспетчер останавливается,
// записи в кэше остаются (их вытеснит LRU).
func (p *ThumbnailPipeline) CloseDocument(fingerprint string) error {
	p.mu.Lock()
	od, ok := p.docs[fingerprint]
	if ok {
		delete(p.docs, fingerprint)
	}
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("document %s is not open: %w", fingerprint, domain.ErrDispatchUnavailable)
	}

	od.dispatcher.Close()
	p.logger.Info("документ закрыт", zap.String("fingerprint", fingerprint))
	return nil
}

// Shutdown закрывает все открытые документы.
func (p *ThumbnailPipeline) Shutdown() {
	p.mu.Lock()
	docs := p.docs
	p.docs = make(map[string]*openDocument)
	p.mu.Unlock()

	for fingerprint, od := range docs {
		od.dispatcher.Close()
		p.logger.Debug("диспетчер остановлен", zap.String("fingerprint", fingerprint))
	}

	p.logger.Info("pipeline остановлен", zap.Int("documents", len(docs)))
}
