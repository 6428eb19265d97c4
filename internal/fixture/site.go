// Package fixture serves a small deliberately vulnerable search site used as a check target in tests
// and for local demos.
package fixture

import (
	"fmt"
	"html"
	"net/http"

	"github.com/gorilla/mux"
)

// SearchInputClass is the class of the search input on every page with a form.
const SearchInputClass = "searchInput"

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<script>
function success() { alert("success"); }
</script>
</head>
<body>
%s
</body>
</html>
`

// NewRouter returns the fixture site:
//
//	/         search form, Enter submits to /search
//	/search   reflects q into the page body without escaping
//	/safe     same form, reflects q escaped
//	/script   reflects q into an inline script string without escaping
//	/static   plain page without a search input
//	/live     search form whose query lives in script state fed by input events
func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", home).Methods("GET")
	r.HandleFunc("/search", search).Methods("GET")
	r.HandleFunc("/safe", safeSearch).Methods("GET")
	r.HandleFunc("/script", scriptSearch).Methods("GET")
	r.HandleFunc("/static", static).Methods("GET")
	r.HandleFunc("/live", live).Methods("GET")
	return r
}

func searchForm(action string) string {
	return fmt.Sprintf(`<form action="%s" method="GET">
<input class="%s" type="text" name="q" placeholder="Search...">
<button type="submit">Search</button>
</form>`, action, SearchInputClass)
}

func writePage(w http.ResponseWriter, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, pageTemplate, title, body)
}

func home(w http.ResponseWriter, r *http.Request) {
	writePage(w, "Search", "<h1>Search</h1>\n"+searchForm("/search"))
}

func search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	writePage(w, "Search results",
		searchForm("/search")+"\n<p>Results for: "+q+"</p>")
}

func safeSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	writePage(w, "Search results",
		searchForm("/safe")+"\n<p>Results for: "+html.EscapeString(q)+"</p>")
}

func scriptSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	writePage(w, "Search results",
		`<p id="results"></p>`+"\n"+`<script>var query = "`+q+`"; document.getElementById("results").textContent = query;</script>`)
}

func static(w http.ResponseWriter, r *http.Request) {
	writePage(w, "About", "<h1>About</h1>\n<p>Nothing to search here.</p>")
}

// The form ignores the input's value on submit and uses what the input listener saw,
// like a framework-controlled field.
const liveForm = `<form id="live">
<input class="%s" type="text" placeholder="Search...">
</form>
<script>
var state = "";
var form = document.getElementById("live");
form.querySelector("input").addEventListener("input", function (e) { state = e.target.value; });
form.addEventListener("submit", function (e) {
  e.preventDefault();
  window.location = "/search?q=" + encodeURIComponent(state);
});
</script>`

func live(w http.ResponseWriter, r *http.Request) {
	writePage(w, "Live search", "<h1>Live search</h1>\n"+fmt.Sprintf(liveForm, SearchInputClass))
}
