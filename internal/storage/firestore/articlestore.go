package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

const articlesCollection = "articles"

// ArticleStore reads article records written by the admin panel.
type ArticleStore struct {
	client *firestore.Client
}

func NewArticleStore(client *firestore.Client) *ArticleStore {
	return &ArticleStore{client: client}
}

// GetArticle loads articles/{id}. Older records carry a single "category" or
// "location" string instead of the list fields; both shapes are accepted.
func (s *ArticleStore) GetArticle(ctx context.Context, articleID string) (*notification.Article, error) {
	doc, err := s.client.Collection(articlesCollection).Doc(articleID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, &notification.NotFoundError{Kind: "article", ID: articleID}
		}
		return nil, &notification.StoreError{Op: "get article", Err: err}
	}

	data := doc.Data()
	title, _ := data["title"].(string)
	imageURL, _ := data["imageUrl"].(string)

	return &notification.Article{
		ID:         doc.Ref.ID,
		Title:      title,
		Categories: listOrSingle(data, "categories", "category"),
		Locations:  listOrSingle(data, "locations", "location"),
		ImageURL:   imageURL,
	}, nil
}

func listOrSingle(data map[string]interface{}, listField, singleField string) []string {
	if list := stringList(data[listField]); len(list) > 0 {
		return list
	}
	if single, ok := data[singleField].(string); ok && single != "" {
		return []string{single}
	}
	return nil
}
