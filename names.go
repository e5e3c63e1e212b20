package main

import (
	"fmt"
	"math/rand"
)

var nameAdjectives = []string{
	"Amber", "Bold", "Brisk", "Calm", "Clever", "Crimson", "Dapper",
	"Eager", "Fuzzy", "Gentle", "Golden", "Hasty", "Indigo", "Jolly",
	"Keen", "Lively", "Mellow", "Nimble", "Olive", "Plucky", "Quiet",
	"Rustic", "Scarlet", "Teal", "Vivid", "Witty", "Zesty",
}

var nameAnimals = []string{
	"Axolotl", "Badger", "Bison", "Capuchin", "Dingo", "Egret",
	"Ferret", "Gecko", "Heron", "Ibex", "Jackal", "Kestrel", "Lemur",
	"Magpie", "Narwhal", "Ocelot", "Pangolin", "Quokka", "Raccoon",
	"Stoat", "Tapir", "Urchin", "Vole", "Wombat", "Yak", "Zebra",
}

// makeName produces the throwaway display name attached to a freshly
// minted identity. Collisions are fine; names are cosmetic.
func makeName() string {
	a := nameAdjectives[rand.Intn(len(nameAdjectives))]
	b := nameAnimals[rand.Intn(len(nameAnimals))]
	return fmt.Sprintf("%s%s%d", a, b, rand.Intn(100))
}
