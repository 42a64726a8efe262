package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/imageset"

	"github.com/google/uuid"
)

const (
	DefaultPageLimit = 16
	MaxPageLimit     = 100
)

// ProductFilter narrows List. Zero values mean no filtering.
type ProductFilter struct {
	CategoryID    *uuid.UUID
	SellerID      *uuid.UUID
	LikedBy       *uuid.UUID
	TitleContains string
}

// Pagination is skip/limit paging over created_at DESC
type Pagination struct {
	Skip  int
	Limit int
}

func (p Pagination) normalize() (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	offset = p.Skip
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ImagePlan computes the target image set from the rows that are current
// inside the update transaction.
type ImagePlan func(current []domain.ProductImage) (*imageset.Result, error)

// ProductRepository persists products together with their images and likes.
// Every mutation runs in a single transaction.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product, images []domain.ImageSpec) (*domain.Product, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	List(ctx context.Context, filter ProductFilter, page Pagination) ([]*domain.Product, error)
	// Update applies patch and, when plan is non-nil, replaces every image
	// row with the plan's Final set. The product row is locked first so
	// concurrent updates reconcile one after another. It returns the updated
	// product and the removed image rows whose url no product references.
	Update(ctx context.Context, id uuid.UUID, patch domain.ProductPatch, plan ImagePlan) (*domain.Product, []domain.ProductImage, error)
	// Delete removes the product, its images and likes and returns the removed
	// images whose url no other product references
	Delete(ctx context.Context, id uuid.UUID) ([]domain.ProductImage, error)
	AddLike(ctx context.Context, userID, productID uuid.UUID) error
	RemoveLike(ctx context.Context, userID, productID uuid.UUID) error
	IncrementViews(ctx context.Context, id uuid.UUID) error
}

type productRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db *sql.DB, timeout time.Duration) ProductRepository {
	return &productRepository{db: db, timeout: timeout}
}

func (r *productRepository) Create(ctx context.Context, product *domain.Product, images []domain.ImageSpec) (*domain.Product, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt
	if product.Tag == "" {
		product.Tag = domain.TagNone
	}
	if product.Status == "" {
		product.Status = domain.StatusForSale
	}

	query := `
		INSERT INTO products (id, seller_id, category_id, title, content, price, trade_city, trade_district,
		                      tag, status, views, likes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, 0, $11, $12)
	`

	var created *domain.Product
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			query,
			product.ID,
			product.SellerID,
			product.CategoryID,
			product.Title,
			product.Content,
			product.Price,
			product.TradeCity,
			product.TradeDistrict,
			product.Tag,
			product.Status,
			product.CreatedAt,
			product.UpdatedAt,
		)
		if err != nil {
			switch {
			case isForeignKeyViolation(err, "fk_products_category"):
				return ErrCategoryNotFound
			case isForeignKeyViolation(err, "fk_products_seller"):
				return ErrUserNotFound
			}
			return persistenceError("create product", err)
		}

		if err := insertImages(ctx, tx, product.ID, images); err != nil {
			return err
		}

		created, err = findProduct(ctx, tx, product.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	return findProduct(ctx, r.db, id)
}

func (r *productRepository) List(ctx context.Context, filter ProductFilter, page Pagination) ([]*domain.Product, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var conditions []string
	var args []any
	argIndex := 1

	if filter.CategoryID != nil {
		conditions = append(conditions, fmt.Sprintf("p.category_id = $%d", argIndex))
		args = append(args, *filter.CategoryID)
		argIndex++
	}
	if filter.SellerID != nil {
		conditions = append(conditions, fmt.Sprintf("p.seller_id = $%d", argIndex))
		args = append(args, *filter.SellerID)
		argIndex++
	}
	if filter.LikedBy != nil {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM product_likes l WHERE l.product_id = p.id AND l.user_id = $%d)", argIndex))
		args = append(args, *filter.LikedBy)
		argIndex++
	}
	if q := strings.TrimSpace(filter.TitleContains); q != "" {
		conditions = append(conditions, fmt.Sprintf(
			`(p.title ILIKE $%[1]d ESCAPE '\' OR p.content ILIKE $%[1]d ESCAPE '\')`, argIndex))
		args = append(args, "%"+escapeLike(q)+"%")
		argIndex++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit, offset := page.normalize()
	args = append(args, limit, offset)

	return queryProducts(ctx, r.db, where, fmt.Sprintf("LIMIT $%d OFFSET $%d", argIndex, argIndex+1), args...)
}

func (r *productRepository) Update(ctx context.Context, id uuid.UUID, patch domain.ProductPatch, plan ImagePlan) (*domain.Product, []domain.ProductImage, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	setClauses := []string{"updated_at = NOW()"}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Content != nil {
		add("content", *patch.Content)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.CategoryID != nil {
		add("category_id", *patch.CategoryID)
	}
	if patch.TradeCity != nil {
		add("trade_city", *patch.TradeCity)
	}
	if patch.TradeDistrict != nil {
		add("trade_district", *patch.TradeDistrict)
	}
	if patch.Tag != nil {
		add("tag", *patch.Tag)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}

	query := fmt.Sprintf("UPDATE products SET %s WHERE id = $1", strings.Join(setClauses, ", "))

	var updated *domain.Product
	var removed []domain.ProductImage
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockProduct(ctx, tx, id); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if isForeignKeyViolation(err, "fk_products_category") {
				return ErrCategoryNotFound
			}
			return persistenceError("update product", err)
		}
		if err := requireRow(result, ErrProductNotFound); err != nil {
			return err
		}

		if plan != nil {
			old, err := deleteImages(ctx, tx, id)
			if err != nil {
				return err
			}
			images, err := plan(old)
			if err != nil {
				return err
			}
			if err := insertImages(ctx, tx, id, images.Final); err != nil {
				return err
			}
			removed, err = orphaned(ctx, tx, unreferenced(old, images.Final))
			if err != nil {
				return err
			}
		}

		updated, err = findProduct(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return updated, removed, nil
}

func (r *productRepository) Delete(ctx context.Context, id uuid.UUID) ([]domain.ProductImage, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var removed []domain.ProductImage
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockProduct(ctx, tx, id); err != nil {
			return err
		}

		old, err := deleteImages(ctx, tx, id)
		if err != nil {
			return err
		}
		if removed, err = orphaned(ctx, tx, old); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM product_likes WHERE product_id = $1`, id); err != nil {
			return persistenceError("delete product likes", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		if err != nil {
			return persistenceError("delete product", err)
		}
		return requireRow(result, ErrProductNotFound)
	})
	if err != nil {
		return nil, err
	}

	return removed, nil
}

// AddLike inserts the like row and bumps the counter in one transaction
func (r *productRepository) AddLike(ctx context.Context, userID, productID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO product_likes (id, user_id, product_id, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT ON CONSTRAINT uq_product_likes_user_product DO NOTHING
		`, uuid.New(), userID, productID)
		if err != nil {
			switch {
			case isForeignKeyViolation(err, "fk_product_likes_product"):
				return ErrProductNotFound
			case isForeignKeyViolation(err, "fk_product_likes_user"):
				return ErrUserNotFound
			}
			return persistenceError("like product", err)
		}
		if err := requireRow(result, ErrAlreadyLiked); err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx, `UPDATE products SET likes = likes + 1, updated_at = NOW() WHERE id = $1`, productID)
		if err != nil {
			return persistenceError("increment likes", err)
		}
		return requireRow(result, ErrProductNotFound)
	})
}

// RemoveLike deletes the like row and decrements the counter, never below zero
func (r *productRepository) RemoveLike(ctx context.Context, userID, productID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM product_likes WHERE user_id = $1 AND product_id = $2`, userID, productID)
		if err != nil {
			return persistenceError("unlike product", err)
		}
		if err := requireRow(result, ErrNotLiked); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE products SET likes = GREATEST(likes - 1, 0), updated_at = NOW() WHERE id = $1`, productID)
		if err != nil {
			return persistenceError("decrement likes", err)
		}
		return nil
	})
}

func (r *productRepository) IncrementViews(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `UPDATE products SET views = views + 1 WHERE id = $1`, id)
	if err != nil {
		return persistenceError("increment views", err)
	}
	return requireRow(result, ErrProductNotFound)
}

const productSelect = `
	WITH page AS (
		SELECT p.id, p.seller_id, p.category_id, p.title, p.content, p.price, p.trade_city, p.trade_district,
		       p.tag, p.status, p.views, p.likes, p.created_at, p.updated_at,
		       u.nickname, c.name, c.slug, c.icon_name, c.created_at AS category_created_at
		FROM products p
		JOIN users u ON u.id = p.seller_id
		JOIN categories c ON c.id = p.category_id
		%s
		ORDER BY p.created_at DESC, p.id DESC
		%s
	)
	SELECT page.id, page.seller_id, page.category_id, page.title, page.content, page.price,
	       page.trade_city, page.trade_district, page.tag, page.status, page.views, page.likes,
	       page.created_at, page.updated_at, page.nickname, page.name, page.slug, page.icon_name,
	       page.category_created_at,
	       i.id, i.image_url, i.is_representative, i.position
	FROM page
	LEFT JOIN product_images i ON i.product_id = page.id
	ORDER BY page.created_at DESC, page.id DESC, i.position ASC
`

func findProduct(ctx context.Context, q querier, id uuid.UUID) (*domain.Product, error) {
	products, err := queryProducts(ctx, q, "WHERE p.id = $1", "LIMIT 1", id)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, ErrProductNotFound
	}
	return products[0], nil
}

// queryProducts loads products with seller, category and ordered images in one round trip
func queryProducts(ctx context.Context, q querier, where, limit string, args ...any) ([]*domain.Product, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(productSelect, where, limit), args...)
	if err != nil {
		return nil, persistenceError("query products", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	byID := make(map[uuid.UUID]*domain.Product)
	for rows.Next() {
		var (
			p             domain.Product
			seller        domain.Seller
			category      domain.Category
			tradeCity     sql.NullString
			tradeDistrict sql.NullString
			imageID       uuid.NullUUID
			imageURL      sql.NullString
			imageRep      sql.NullBool
			imagePos      sql.NullInt32
		)
		err := rows.Scan(
			&p.ID, &p.SellerID, &p.CategoryID, &p.Title, &p.Content, &p.Price,
			&tradeCity, &tradeDistrict, &p.Tag, &p.Status, &p.Views, &p.Likes,
			&p.CreatedAt, &p.UpdatedAt, &seller.Nickname, &category.Name, &category.Slug, &category.IconName,
			&category.CreatedAt,
			&imageID, &imageURL, &imageRep, &imagePos,
		)
		if err != nil {
			return nil, persistenceError("scan product", err)
		}

		product, ok := byID[p.ID]
		if !ok {
			if tradeCity.Valid {
				p.TradeCity = &tradeCity.String
			}
			if tradeDistrict.Valid {
				p.TradeDistrict = &tradeDistrict.String
			}
			seller.ID = p.SellerID
			category.ID = p.CategoryID
			p.Seller = &seller
			p.Category = &category
			p.Images = []domain.ProductImage{}
			product = &p
			byID[p.ID] = product
			products = append(products, product)
		}

		if imageID.Valid {
			product.Images = append(product.Images, domain.ProductImage{
				ID:               imageID.UUID,
				ProductID:        product.ID,
				ImageURL:         imageURL.String,
				IsRepresentative: imageRep.Bool,
				Position:         int(imagePos.Int32),
			})
		}
	}

	if err = rows.Err(); err != nil {
		return nil, persistenceError("iterate products", err)
	}

	return products, nil
}

func insertImages(ctx context.Context, q querier, productID uuid.UUID, images []domain.ImageSpec) error {
	if len(images) == 0 {
		return nil
	}

	values := make([]string, 0, len(images))
	args := make([]any, 0, len(images)*5)
	for i, img := range images {
		n := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5))
		args = append(args, uuid.New(), productID, img.URL, img.IsRepresentative, i)
	}

	query := `INSERT INTO product_images (id, product_id, image_url, is_representative, position) VALUES ` +
		strings.Join(values, ", ")
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err, "fk_product_images_product") {
			return ErrProductNotFound
		}
		return persistenceError("insert product images", err)
	}
	return nil
}

func deleteImages(ctx context.Context, q querier, productID uuid.UUID) ([]domain.ProductImage, error) {
	rows, err := q.QueryContext(ctx, `
		DELETE FROM product_images WHERE product_id = $1
		RETURNING id, product_id, image_url, is_representative, position
	`, productID)
	if err != nil {
		return nil, persistenceError("delete product images", err)
	}
	defer rows.Close()

	var images []domain.ProductImage
	for rows.Next() {
		var img domain.ProductImage
		if err := rows.Scan(&img.ID, &img.ProductID, &img.ImageURL, &img.IsRepresentative, &img.Position); err != nil {
			return nil, persistenceError("scan product image", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate product images", err)
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Position < images[j].Position })
	return images, nil
}

// unreferenced returns the images whose url does not appear in final
func unreferenced(images []domain.ProductImage, final []domain.ImageSpec) []domain.ProductImage {
	keep := make(map[string]bool, len(final))
	for _, spec := range final {
		keep[spec.URL] = true
	}
	var out []domain.ProductImage
	for _, img := range images {
		if !keep[img.ImageURL] {
			out = append(out, img)
		}
	}
	return out
}

// lockProduct takes the row lock that serializes image changes of one product
func lockProduct(ctx context.Context, q querier, id uuid.UUID) error {
	var locked uuid.UUID
	err := q.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrProductNotFound
	case err != nil:
		return persistenceError("lock product", err)
	}
	return nil
}

// orphaned drops the images whose url is still used by a product_images row.
// Blobs are shared by url, so only the remaining ones may be deleted.
func orphaned(ctx context.Context, q querier, images []domain.ProductImage) ([]domain.ProductImage, error) {
	if len(images) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(images))
	args := make([]any, len(images))
	for i, img := range images {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = img.ImageURL
	}

	rows, err := q.QueryContext(ctx,
		`SELECT DISTINCT image_url FROM product_images WHERE image_url IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, persistenceError("check shared images", err)
	}
	defer rows.Close()

	shared := make(map[string]bool)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, persistenceError("scan shared image", err)
		}
		shared[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate shared images", err)
	}

	var out []domain.ProductImage
	for _, img := range images {
		if !shared[img.ImageURL] {
			out = append(out, img)
		}
	}
	return out, nil
}

func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistenceError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
