// Package pageimages caches the thumbnail image chosen for each page.
package pageimages

import (
	"context"

	"github.com/maloquacious/pagestore/internal/page"
	"github.com/maloquacious/pagestore/internal/store"
	"github.com/maloquacious/pagestore/internal/store/sqlite"
)

// Database versions at which the table changed.
const (
	VersionIntroduced  = 1
	VersionNamespace   = 7
	VersionUnderscores = 8
	VersionLang        = 10
)

const (
	colSite      = "site"
	colLang      = "lang"
	colNamespace = "namespace"
	colTitle     = "title"
	colImageName = "imageName"
)

// KeyColumns identify one page across sites and languages.
var KeyColumns = []string{colSite, colLang, colNamespace, colTitle}

// PageImage associates a page with its thumbnail.
type PageImage struct {
	Title     page.Title
	ImageName string
}

// Table is the pageimages table definition.
var Table = store.MustTable[PageImage]("pageimages",
	store.NewChain(VersionIntroduced).
		Add(1, store.IDColumn(), store.Text(colSite), store.Text(colTitle), store.Text(colImageName)).
		Add(VersionNamespace, store.Text(colNamespace)).
		Transform(VersionUnderscores, store.NormalizeText(colTitle, nil, nil)).
		Add(VersionLang, store.Text(colLang)).
		Transform(VersionLang, store.SplitField(colSite, colLang, ".", 0)),
	codec{})

type codec struct{}

func (codec) KeyColumns() []string {
	return KeyColumns
}

func (codec) ToRow(img PageImage) store.Row {
	return store.Row{
		colSite:      img.Title.Site.Authority,
		colLang:      img.Title.Site.Lang,
		colNamespace: img.Title.Namespace,
		colTitle:     img.Title.Text,
		colImageName: img.ImageName,
	}
}

func (codec) FromRow(row store.Row) (PageImage, error) {
	site, err := row.Text(colSite)
	if err != nil {
		return PageImage{}, err
	}
	lang, err := row.OptionalText(colLang)
	if err != nil {
		return PageImage{}, err
	}
	namespace, err := row.OptionalText(colNamespace)
	if err != nil {
		return PageImage{}, err
	}
	title, err := row.Text(colTitle)
	if err != nil {
		return PageImage{}, err
	}
	imageName, err := row.OptionalText(colImageName)
	if err != nil {
		return PageImage{}, err
	}
	return PageImage{
		Title: page.Title{
			Namespace: namespace,
			Text:      title,
			Site:      page.Site{Authority: site, Lang: lang},
		},
		ImageName: imageName,
	}, nil
}

// ImageNameForTitle returns the image stored for the title text, on any site.
// The lookup is a raw filter on the title column, so the text is quoted.
func ImageNameForTitle(ctx context.Context, t *sqlite.Table[PageImage], title page.Title) (string, bool, error) {
	images, err := t.SelectWhere(ctx, store.QuoteIdent(colTitle)+" = "+store.QuoteLiteral(title.Text))
	if err != nil {
		return "", false, err
	}
	if len(images) == 0 {
		return "", false, nil
	}
	return images[0].ImageName, true, nil
}
