package gqlhttp

import (
	"html/template"
	"net/http"

	gohttp "github.com/panyam/graphqlkit/http"
)

const (
	graphiqlVersion               = "1.0.3"
	subscriptionsTransportVersion = "0.7.3"
)

var graphiqlTemplate = template.Must(template.New("graphiql").Parse(`<!DOCTYPE html>
<html>
  <head>
    <title>{{.Title}}</title>
    <meta name="robots" content="noindex" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>
      body { margin: 0; overflow: hidden; }
      #graphiql { height: 100vh; }
    </style>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphiql@{{.GraphiQLVersion}}/graphiql.css" />
    <script src="https://cdn.jsdelivr.net/npm/react@16.13.1/umd/react.production.min.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/react-dom@16.13.1/umd/react-dom.production.min.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/graphiql@{{.GraphiQLVersion}}/graphiql.min.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/subscriptions-transport-ws@{{.TransportVersion}}/browser/client.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/graphiql-subscriptions-fetcher@0.0.2/browser/client.js"></script>
  </head>
  <body>
    <div id="graphiql">Loading...</div>
    <script>
      var queryURL = {{.QueryURL}};
      var subscriptionURL = {{.SubscriptionURL}};

      function graphQLFetcher(params) {
        return fetch(queryURL, {
          method: 'post',
          headers: {'Accept': 'application/json', 'Content-Type': 'application/json'},
          body: JSON.stringify(params),
          credentials: 'include',
        }).then(function (response) {
          return response.text();
        }).then(function (body) {
          try { return JSON.parse(body); } catch (e) { return body; }
        });
      }

      var client = new SubscriptionsTransportWs.SubscriptionClient(subscriptionURL, {reconnect: true});
      var fetcher = GraphiQLSubscriptionsFetcher.graphQLFetcher(client, graphQLFetcher);

      ReactDOM.render(
        React.createElement(GraphiQL, {fetcher: fetcher}),
        document.getElementById('graphiql')
      );
    </script>
  </body>
</html>
`))

type graphiqlPage struct {
	Title            string
	GraphiQLVersion  string
	TransportVersion string
	QueryURL         string
	SubscriptionURL  string
}

func (c *Controller) serveGraphiQL(w http.ResponseWriter, r *http.Request) {
	base := gohttp.RequestScheme(r) + "://" + gohttp.RequestHost(r)
	page := graphiqlPage{
		Title:            "GraphiQL",
		GraphiQLVersion:  graphiqlVersion,
		TransportVersion: subscriptionsTransportVersion,
		QueryURL:         c.path("/graphql"),
		SubscriptionURL:  gohttp.NormalizeWsUrl(base + c.path("/subscriptions")),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := graphiqlTemplate.Execute(w, page); err != nil {
		c.logger.Error("cannot render graphiql", "error", err)
	}
}
