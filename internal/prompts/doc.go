// Package prompts loads the predefined prompt catalog.
//
// Prompts are canned questions the user can send verbatim. They are kept in
// a TOML file so deployments can swap the catalog without rebuilding, and
// each prompt can be scoped to one assistant domain (hr, it) or shared.
//
// Sending a predefined prompt matters downstream: the title pipeline gives
// predefined text a shorter generation timeout because the prompt already
// reads like a title.
package prompts
