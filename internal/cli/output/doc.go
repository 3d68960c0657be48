// Package output renders otamesh-cli results as tables, JSON or YAML.
//
// Types that know their own columns implement Tabler. Anything else is
// shown in table mode as flattened key/value rows built from its JSON form,
// so admin API payloads print without per-type code.
package output
