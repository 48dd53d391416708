package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const contactPageHTML = `<html>
<head>
  <title>Acme Plumbing | Trenton NJ</title>
  <meta property="og:title" content="Acme Plumbing">
  <meta name="description" content="Family-owned plumbing serving Mercer County since 1982.">
</head>
<body>
  <header><a href="tel:+16092550101">Call us</a></header>
  <h1>Acme Plumbing</h1>
  <div class="contact">
    Phone: (609) 255-0101
    Fax: (609) 255-0102
    <a href="mailto:office@acmeplumbing.net">office@acmeplumbing.net</a>
    <address>12 Main Street, Trenton, NJ 08601</address>
  </div>
  <footer>
    <a href="https://facebook.com/acmeplumbing">Facebook</a>
    <a href="https://www.linkedin.com/company/acme-plumbing">LinkedIn</a>
  </footer>
</body>
</html>`

func TestExtractContactPage(t *testing.T) {
	t.Parallel()

	fields := Extract([]byte(contactPageHTML), true)

	require.True(t, fields.HasPhone())
	// The main line appears as a tel: link, next to the "Phone" label, and
	// inside the contact block; the fax number only has label and block
	// context. Accumulated scores put the main line first.
	require.Equal(t, "(609) 255-0101", fields.PrimaryPhone())
	require.Contains(t, fields.Phones, "(609) 255-0102")

	require.Equal(t, []string{"office@acmeplumbing.net"}, fields.Emails)
	require.Equal(t, "Acme Plumbing", fields.Name)
	require.Equal(t, "Family-owned plumbing serving Mercer County since 1982.", fields.Description)
	require.Len(t, fields.Addresses, 1)
	require.Contains(t, fields.Addresses[0], "12 Main Street")
	require.Equal(t, "https://facebook.com/acmeplumbing", fields.Social["facebook"])
	require.Equal(t, "https://linkedin.com/company/acme-plumbing", fields.Social["linkedin"])
}

func TestExtractIsDeterministic(t *testing.T) {
	t.Parallel()

	a := Extract([]byte(contactPageHTML), true)
	b := Extract([]byte(contactPageHTML), true)
	require.Equal(t, a, b)
}

func TestExtractDegradesOnPlainText(t *testing.T) {
	t.Parallel()

	text := []byte("Reach our office at 609-255-0101 or write sales@acmeplumbing.net")
	fields := Extract(text, false)
	require.Equal(t, []string{"(609) 255-0101"}, fields.Phones)
	require.Equal(t, []string{"sales@acmeplumbing.net"}, fields.Emails)
	require.Empty(t, fields.Name)
}

func TestExtractNameSkipsBlockPages(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>403 Forbidden</title></head><body><h1>Acme Plumbing</h1></body></html>`
	fields := Extract([]byte(html), false)
	require.Equal(t, "Acme Plumbing", fields.Name)
}

func TestExtractNameStripsTaglines(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>Acme Plumbing - Trenton's Best</title></head><body></body></html>`
	fields := Extract([]byte(html), false)
	require.Equal(t, "Acme Plumbing", fields.Name)
}

func TestExtractEmailIgnoresPlaceholders(t *testing.T) {
	t.Parallel()

	html := `<body>
	  info@example.com
	  logo@2x.png@site.com
	  real@smallbiz.net
	  abc123@sentry.wixpress.com
	</body>`
	fields := Extract([]byte(html), false)
	require.Equal(t, []string{"real@smallbiz.net"}, fields.Emails)
}

func TestExtractEmailCapAndOrder(t *testing.T) {
	t.Parallel()

	html := `<body>
	  z@biz.net y@biz.net x@biz.net w@biz.net v@biz.net u@biz.net
	</body>`
	fields := Extract([]byte(html), false)
	require.Len(t, fields.Emails, 5)
	require.Equal(t, "u@biz.net", fields.Emails[0])
}
