package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"commerce/internal/domain/model"
	"commerce/internal/lock"
	repo "commerce/internal/repository"
	"commerce/internal/retry"

	"github.com/shopspring/decimal"
)

const DefaultCartMaxLines = 50

// カートが変わったときに同期で呼ばれる
type CartListener func(sessionID string, cart model.Cart)

type cartListener struct {
	id int
	fn CartListener
}

// CartUsecase はセッションごとのカート。変更はセッション単位で直列化する
type CartUsecase struct {
	store    repo.KeyValueStore
	catalog  repo.Catalog
	ids      IDGenerator
	clock    Clock
	policy   retry.Policy
	maxLines int

	locks *lock.Keyed

	mu        sync.Mutex
	listeners []cartListener
	nextID    int
}

func NewCartUsecase(
	store repo.KeyValueStore,
	catalog repo.Catalog,
	ids IDGenerator,
	clock Clock,
	policy retry.Policy,
	maxLines int,
) *CartUsecase {
	if maxLines <= 0 {
		maxLines = DefaultCartMaxLines
	}
	return &CartUsecase{
		store:    store,
		catalog:  catalog,
		ids:      ids,
		clock:    clock,
		policy:   policy,
		maxLines: maxLines,
		locks:    lock.NewKeyed(),
	}
}

// Subscribe は登録順に呼ばれるリスナーを追加し、解除関数を返す
func (u *CartUsecase) Subscribe(fn CartListener) func() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.nextID++
	id := u.nextID
	u.listeners = append(u.listeners, cartListener{id: id, fn: fn})

	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		for i, l := range u.listeners {
			if l.id == id {
				u.listeners = append(u.listeners[:i], u.listeners[i+1:]...)
				return
			}
		}
	}
}

// Cart は保存済みのカートをそのまま返す（検証しない）
func (u *CartUsecase) Cart(ctx context.Context, sessionID string) (model.Cart, error) {
	if sessionID == "" {
		return model.Cart{}, NewAppError(KindValidation, "session is required")
	}
	return u.load(ctx, sessionID)
}

// AddItem は同じ商品・オプションの行があれば数量を加算し、在庫で頭打ちにする
func (u *CartUsecase) AddItem(ctx context.Context, sessionID string, productID string, quantity int, options map[string]string) (bool, error) {
	if sessionID == "" {
		return false, NewAppError(KindValidation, "session is required")
	}
	if productID == "" {
		return false, NewAppError(KindValidation, "invalid product_id")
	}
	if quantity < 1 {
		return false, NewAppError(KindValidation, "invalid quantity")
	}

	unlock := u.locks.Lock(sessionID)
	defer unlock()

	p, err := u.getProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	if !p.IsActive || p.Stock <= 0 {
		return false, NewAppError(KindStockConflict, "out of stock")
	}

	cart, err := u.load(ctx, sessionID)
	if err != nil {
		return false, err
	}

	key := model.OptionsFingerprint(options)
	if i := cart.IndexOf(productID, key); i >= 0 {
		line := &cart.Lines[i]
		line.Quantity = min(line.Quantity+quantity, p.Stock)
		line.Product = snapshotOf(p)
	} else {
		// 行数の上限
		if len(cart.Lines) >= u.maxLines {
			return false, NewAppError(KindCartFull, fmt.Sprintf("cart is limited to %d lines", u.maxLines))
		}
		cart.Lines = append(cart.Lines, model.CartLine{
			ID:                u.ids.NewID(),
			ProductID:         p.ID,
			Options:           copyOptions(options),
			OptionsKey:        key,
			Quantity:          min(quantity, p.Stock),
			UnitPrice:         p.Price,
			OriginalUnitPrice: p.ListPrice(),
			SellerID:          p.SellerID,
			SellerName:        p.SellerName,
			Product:           snapshotOf(p),
			AddedAt:           u.clock.Now(),
		})
	}

	if err := u.save(ctx, &cart); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateQuantity は 0 以下なら行を削除、それ以外は最新在庫で頭打ちにする
func (u *CartUsecase) UpdateQuantity(ctx context.Context, sessionID string, lineID string, quantity int) (model.Cart, error) {
	unlock := u.locks.Lock(sessionID)
	defer unlock()

	cart, err := u.load(ctx, sessionID)
	if err != nil {
		return model.Cart{}, err
	}
	i := cart.IndexOfLine(lineID)
	if i < 0 {
		return model.Cart{}, NewAppError(KindNotFound, "cart line not found")
	}

	if quantity <= 0 {
		cart.RemoveAt(i)
	} else {
		line := &cart.Lines[i]
		stock := 0
		if line.Product != nil {
			stock = line.Product.Stock
		}

		p, err := u.getProduct(ctx, line.ProductID)
		switch {
		case err == nil:
			stock = p.Stock
			line.Product = snapshotOf(p)
		case KindOf(err) == KindNotFound:
			// カタログから消えた商品は最後に見た在庫で判断
		default:
			return model.Cart{}, err
		}

		if stock <= 0 {
			return model.Cart{}, NewAppError(KindStockConflict, "out of stock")
		}
		line.Quantity = min(quantity, stock)
	}

	if err := u.save(ctx, &cart); err != nil {
		return model.Cart{}, err
	}
	return cart.Clone(), nil
}

func (u *CartUsecase) RemoveItem(ctx context.Context, sessionID string, lineID string) (model.Cart, error) {
	unlock := u.locks.Lock(sessionID)
	defer unlock()

	cart, err := u.load(ctx, sessionID)
	if err != nil {
		return model.Cart{}, err
	}
	if i := cart.IndexOfLine(lineID); i >= 0 {
		cart.RemoveAt(i)
	}
	if err := u.save(ctx, &cart); err != nil {
		return model.Cart{}, err
	}
	return cart.Clone(), nil
}

func (u *CartUsecase) Clear(ctx context.Context, sessionID string) error {
	unlock := u.locks.Lock(sessionID)
	defer unlock()

	return u.clearLocked(ctx, sessionID)
}

// Validate は在庫・価格のずれを補正して保存する。呼び出し後はカートを読み直すこと
func (u *CartUsecase) Validate(ctx context.Context, sessionID string) (model.CartValidation, error) {
	unlock := u.locks.Lock(sessionID)
	defer unlock()

	cart, err := u.load(ctx, sessionID)
	if err != nil {
		return model.CartValidation{}, err
	}
	return u.validateAndSave(ctx, &cart)
}

// Summary は検証を実行してから合計を出す
func (u *CartUsecase) Summary(ctx context.Context, sessionID string) (model.CartSummary, error) {
	unlock := u.locks.Lock(sessionID)
	defer unlock()

	summary, _, err := u.summaryLocked(ctx, sessionID)
	return summary, err
}

func (u *CartUsecase) ItemCount(ctx context.Context, sessionID string) (int, error) {
	cart, err := u.load(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return cart.ItemCount(), nil
}

func (u *CartUsecase) ItemQuantity(ctx context.Context, sessionID string, productID string, options map[string]string) (int, error) {
	cart, err := u.load(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if i := cart.IndexOf(productID, model.OptionsFingerprint(options)); i >= 0 {
		return cart.Lines[i].Quantity, nil
	}
	return 0, nil
}

func (u *CartUsecase) IsInCart(ctx context.Context, sessionID string, productID string, options map[string]string) (bool, error) {
	q, err := u.ItemQuantity(ctx, sessionID, productID, options)
	return q > 0, err
}

// Export はカートを JSON で書き出す
func (u *CartUsecase) Export(ctx context.Context, sessionID string) ([]byte, error) {
	cart, err := u.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(cart)
	if err != nil {
		return nil, wrapError(KindInternal, "encode cart", err)
	}
	return b, nil
}

// Import はカートを置き換える。カタログに無い商品は捨て、数量は在庫で頭打ちにする
func (u *CartUsecase) Import(ctx context.Context, sessionID string, data []byte) (model.Cart, error) {
	var in model.Cart
	if err := json.Unmarshal(data, &in); err != nil {
		return model.Cart{}, wrapError(KindValidation, "invalid cart data", err)
	}

	unlock := u.locks.Lock(sessionID)
	defer unlock()

	cart := model.Cart{SessionID: sessionID}
	for _, l := range in.Lines {
		if len(cart.Lines) >= u.maxLines {
			break
		}
		if l.Quantity < 1 {
			continue
		}
		p, err := u.getProduct(ctx, l.ProductID)
		if KindOf(err) == KindNotFound {
			continue
		}
		if err != nil {
			return model.Cart{}, err
		}
		if !p.IsActive || p.Stock <= 0 {
			continue
		}

		key := model.OptionsFingerprint(l.Options)
		if i := cart.IndexOf(p.ID, key); i >= 0 {
			cart.Lines[i].Quantity = min(cart.Lines[i].Quantity+l.Quantity, p.Stock)
			continue
		}
		if l.ID == "" {
			l.ID = u.ids.NewID()
		}
		if l.AddedAt.IsZero() {
			l.AddedAt = u.clock.Now()
		}
		l.ProductID = p.ID
		l.OptionsKey = key
		l.Quantity = min(l.Quantity, p.Stock)
		l.UnitPrice = p.Price
		l.OriginalUnitPrice = p.ListPrice()
		l.SellerID = p.SellerID
		l.SellerName = p.SellerName
		l.Product = snapshotOf(p)
		cart.Lines = append(cart.Lines, l)
	}

	if err := u.save(ctx, &cart); err != nil {
		return model.Cart{}, err
	}
	return cart.Clone(), nil
}

// ===== ロック取得済みの内部処理（CheckoutUsecase からも使う） =====

func (u *CartUsecase) summaryLocked(ctx context.Context, sessionID string) (model.CartSummary, model.Cart, error) {
	cart, err := u.load(ctx, sessionID)
	if err != nil {
		return model.CartSummary{}, model.Cart{}, err
	}
	validation, err := u.validateAndSave(ctx, &cart)
	if err != nil {
		return model.CartSummary{}, model.Cart{}, err
	}
	return summarize(cart, validation), cart, nil
}

func (u *CartUsecase) clearLocked(ctx context.Context, sessionID string) error {
	cart := model.Cart{SessionID: sessionID}
	return u.save(ctx, &cart)
}

func (u *CartUsecase) validateAndSave(ctx context.Context, cart *model.Cart) (model.CartValidation, error) {
	validation, changed, err := u.validate(ctx, cart)
	if err != nil {
		return model.CartValidation{}, err
	}
	if changed {
		if err := u.save(ctx, cart); err != nil {
			return model.CartValidation{}, err
		}
	}
	return validation, nil
}

// validate は行ごとに最新の商品と突き合わせて cart を補正する
func (u *CartUsecase) validate(ctx context.Context, cart *model.Cart) (model.CartValidation, bool, error) {
	result := model.CartValidation{Errors: []model.CartIssue{}, Warnings: []model.CartIssue{}}
	changed := false

	for i := range cart.Lines {
		line := &cart.Lines[i]
		issue := func(msg string) model.CartIssue {
			return model.CartIssue{LineID: line.ID, ProductID: line.ProductID, Message: msg}
		}

		p, err := u.getProduct(ctx, line.ProductID)
		if KindOf(err) == KindNotFound {
			if line.Product != nil {
				line.Product = nil
				changed = true
			}
			result.Errors = append(result.Errors, issue("product is no longer available"))
			continue
		}
		if err != nil {
			return model.CartValidation{}, false, err
		}

		snap := snapshotOf(p)
		if line.Product == nil || *line.Product != *snap {
			line.Product = snap
			changed = true
		}

		if !p.IsActive {
			result.Errors = append(result.Errors, issue("product is no longer available"))
			continue
		}
		if p.Stock <= 0 {
			result.Errors = append(result.Errors, issue(fmt.Sprintf("%s is out of stock", p.Name)))
			continue
		}
		if line.Quantity > p.Stock {
			result.Warnings = append(result.Warnings, issue(fmt.Sprintf("only %d of %s left; quantity adjusted", p.Stock, p.Name)))
			line.Quantity = p.Stock
			changed = true
		}
		if !line.UnitPrice.Equal(p.Price) {
			result.Warnings = append(result.Warnings, issue(fmt.Sprintf("price of %s changed from %s to %s", p.Name, line.UnitPrice.StringFixed(2), p.Price.StringFixed(2))))
			line.UnitPrice = p.Price
			line.OriginalUnitPrice = p.ListPrice()
			changed = true
		}
	}

	result.Valid = len(result.Errors) == 0
	return result, changed, nil
}

func summarize(cart model.Cart, validation model.CartValidation) model.CartSummary {
	total := cart.Total()
	original := cart.OriginalTotal()
	savings := original.Sub(total)

	var pct int64
	if original.IsPositive() {
		pct = savings.Div(original).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	}

	c := cart.Clone()
	return model.CartSummary{
		Lines:              c.Lines,
		LineCount:          len(c.Lines),
		ItemCount:          c.ItemCount(),
		Total:              total,
		OriginalTotal:      original,
		Savings:            savings,
		DiscountPercentage: pct,
		Sellers:            c.BySeller(),
		Validation:         validation,
	}
}

// ===== 保存・通知 =====

func cartKey(sessionID string) string {
	return "cart:" + sessionID
}

func (u *CartUsecase) load(ctx context.Context, sessionID string) (model.Cart, error) {
	data, err := retry.DoValue(ctx, u.policy, func(ctx context.Context) ([]byte, error) {
		return u.store.Get(ctx, cartKey(sessionID))
	})
	if errors.Is(err, repo.ErrNotFound) {
		return model.Cart{SessionID: sessionID, Lines: []model.CartLine{}}, nil
	}
	if err != nil {
		return model.Cart{}, wrapError(KindInternal, "load cart", err)
	}

	var cart model.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return model.Cart{}, wrapError(KindInternal, "decode cart", err)
	}
	cart.SessionID = sessionID
	if cart.Lines == nil {
		cart.Lines = []model.CartLine{}
	}
	return cart, nil
}

// save は保存してからリスナーへ登録順に通知する
func (u *CartUsecase) save(ctx context.Context, cart *model.Cart) error {
	cart.UpdatedAt = u.clock.Now()
	data, err := json.Marshal(cart)
	if err != nil {
		return wrapError(KindInternal, "encode cart", err)
	}
	err = retry.Do(ctx, u.policy, func(ctx context.Context) error {
		return u.store.Set(ctx, cartKey(cart.SessionID), data)
	})
	if err != nil {
		return wrapError(KindInternal, "save cart", err)
	}

	u.mu.Lock()
	listeners := append([]cartListener(nil), u.listeners...)
	u.mu.Unlock()

	for _, l := range listeners {
		l.fn(cart.SessionID, cart.Clone())
	}
	return nil
}

func (u *CartUsecase) getProduct(ctx context.Context, productID string) (model.Product, error) {
	p, err := retry.DoValue(ctx, u.policy, func(ctx context.Context) (model.Product, error) {
		return u.catalog.GetProduct(ctx, productID)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewAppError(KindNotFound, "product not found")
	}
	if err != nil {
		return model.Product{}, wrapError(KindInternal, "catalog error", err)
	}
	return p, nil
}

func snapshotOf(p model.Product) *model.ProductSnapshot {
	return &model.ProductSnapshot{
		Name:  p.Name,
		Image: p.Image,
		Brand: p.Brand,
		Stock: p.Stock,
	}
}

func copyOptions(options map[string]string) map[string]string {
	if len(options) == 0 {
		return nil
	}
	out := make(map[string]string, len(options))
	for k, v := range options {
		out[k] = v
	}
	return out
}
